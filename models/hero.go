package models

// Hero is a tabletop role-playing character served by the heroes API
type Hero struct {
	ID                string `json:"id" db:"id" validate:"omitempty,max=64"`
	Name              string `json:"name" db:"name" validate:"required,max=100"`
	Race              string `json:"race" db:"race" validate:"required,max=50"`
	Class             string `json:"class" db:"class" validate:"required,max=50"`
	Level             int    `json:"level" db:"level" validate:"required,gte=1"`
	Background        string `json:"background,omitempty" db:"background"`
	Alignment         string `json:"alignment,omitempty" db:"alignment"`
	HitPoints         int    `json:"hit_points" db:"hit_points" validate:"required,gte=1"`
	ArmorClass        int    `json:"armor_class" db:"armor_class" validate:"required,gte=1"`
	Speed             int    `json:"speed" db:"speed" validate:"required,gte=1"`
	PersonalityTraits string `json:"personality_traits,omitempty" db:"personality_traits"`
	Ideals            string `json:"ideals,omitempty" db:"ideals"`
	Bonds             string `json:"bonds,omitempty" db:"bonds"`
	Flaws             string `json:"flaws,omitempty" db:"flaws"`
}

// TableName returns the table name for the Hero model
func (Hero) TableName() string {
	return "heroes"
}

// Clone returns a copy that shares no memory with h
func (h *Hero) Clone() *Hero {
	c := *h
	return &c
}
