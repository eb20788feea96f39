package loam

// DocumentMetadata is the optional frontmatter of an instruction or prompt document.
// It uses "mapstructure" tags to match standard Frontmatter/YAML keys.
type DocumentMetadata struct {
	ID          string   `json:"id" mapstructure:"id"`
	Title       string   `json:"title" mapstructure:"title"`
	Description string   `json:"description" mapstructure:"description"`
	Tags        []string `json:"tags" mapstructure:"tags"`

	// General Metadata
	Metadata map[string]string `json:"metadata" mapstructure:"metadata"`
}
