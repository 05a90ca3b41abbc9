// internal/model/recipient.go
package model

// Recipient is a row in the recipient directory. The directory is an
// external collaborator; the engine only reads it.
type Recipient struct {
	ID        int               `db:"id" json:"id"`
	Phone     string            `db:"phone" json:"phone"`
	Email     string            `db:"email" json:"email"`
	FirstName string            `db:"first_name" json:"first_name"`
	LastName  string            `db:"last_name" json:"last_name"`
	Location  string            `db:"location" json:"location"`
	TimeZone  string            `db:"time_zone" json:"time_zone"`
	Tags      []string          `db:"tags" json:"tags"`
	Attrs     map[string]string `db:"attrs" json:"attrs"`
}

func (r *Recipient) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Criteria describes an audience. Empty fields match everyone; exclusion
// criteria use the same shape and remove anyone they match.
type Criteria struct {
	Locations []string          `json:"locations,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

func (c Criteria) Empty() bool {
	return len(c.Locations) == 0 && len(c.Tags) == 0 && len(c.Attrs) == 0
}

// Match reports whether the recipient satisfies every populated criterion.
func (c Criteria) Match(r *Recipient) bool {
	if len(c.Locations) > 0 {
		found := false
		for _, loc := range c.Locations {
			if r.Location == loc {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, tag := range c.Tags {
		if !r.HasTag(tag) {
			return false
		}
	}
	for k, v := range c.Attrs {
		if r.Attrs[k] != v {
			return false
		}
	}
	return true
}
