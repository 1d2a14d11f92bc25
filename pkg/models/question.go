package models

// Question is one entry of the externally-defined question catalog.
// Intent tells the extractor what the question was probing for; it is
// carried into every prompt so responses are never analyzed out of
// context.
type Question struct {
	ID     string `json:"id" yaml:"id"`
	Text   string `json:"text" yaml:"text"`
	Intent string `json:"intent,omitempty" yaml:"intent"`
}

// Program is one entry of the program registry: a canonical name plus
// the aliases it may be referenced by in free text.
type Program struct {
	Name    string   `json:"name" yaml:"name"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases"`
}
