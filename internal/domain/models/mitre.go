package models

// Technique is a catalog entry for a cataloged adversary behavior
type Technique struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Tactic      string   `json:"tactic" yaml:"tactic"`
	Description string   `json:"description" yaml:"description"`
	Indicators  []string `json:"indicators" yaml:"indicators"`
}

// TechniqueCatalog is an ordered list of techniques; order breaks confidence ties
type TechniqueCatalog struct {
	Techniques []Technique `json:"techniques" yaml:"techniques"`
}

// Lookup returns the technique with the given id
func (c *TechniqueCatalog) Lookup(id string) (Technique, bool) {
	for _, t := range c.Techniques {
		if t.ID == id {
			return t, true
		}
	}
	return Technique{}, false
}
