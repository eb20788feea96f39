/*
Package observability provides the notification hub and the Prometheus metrics of the runtime.

The Hub fans session events out to live subscribers. Every subscription starts with a
full_state message carrying the condensed state and the whole history, then receives
trace and state messages as the session mutates. Slow subscribers never block the
publisher: each one owns a bounded queue and an OverflowPolicy decides what happens
when it fills up.

Hub.Watcher adapts one session stream to an introspection.TypedWatcher[*domain.Session],
and Aggregator merges such watchers (and any other introspection component, such as a
lifecycle signal context) into a single snapshot stream.
*/
package observability
