package model

// DataSource routes Earth-Observation data to the ADES that serves it.
type DataSource struct {
	ID          string   `json:"id" yaml:"id" mapstructure:"id"`
	Netloc      string   `json:"netloc,omitempty" yaml:"netloc" mapstructure:"netloc"`
	RootDir     string   `json:"rootdir,omitempty" yaml:"rootdir" mapstructure:"rootdir"`
	ADES        string   `json:"ades" yaml:"ades" mapstructure:"ades"`
	Default     bool     `json:"default,omitempty" yaml:"default" mapstructure:"default"`
	Collections []string `json:"collections,omitempty" yaml:"collections" mapstructure:"collections"`
	Accept      []string `json:"accept,omitempty" yaml:"accept" mapstructure:"accept"`
	OSDD        string   `json:"osdd_url,omitempty" yaml:"osdd_url" mapstructure:"osdd_url"`
	Public      bool     `json:"public,omitempty" yaml:"public" mapstructure:"public"`
}
