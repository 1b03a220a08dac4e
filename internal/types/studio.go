package types

// YogaClass is the payload of a record in the classes collection.
type YogaClass struct {
	DayOfWeek       string  `json:"dayOfWeek,omitempty"`
	CourseTime      string  `json:"courseTime,omitempty"`
	Capacity        int     `json:"capacity,omitempty"`
	Duration        int     `json:"duration,omitempty"` // minutes
	PricePerClass   float64 `json:"pricePerClass,omitempty"`
	ClassType       string  `json:"classType,omitempty"`
	Teacher         string  `json:"teacher,omitempty"`
	Description     string  `json:"description,omitempty"`
	EquipmentNeeded string  `json:"equipmentNeeded,omitempty"`
	DifficultyLevel string  `json:"difficultyLevel,omitempty"`
}

// Instructor is the payload of a record in the instructors collection.
type Instructor struct {
	Name        string   `json:"name"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Specialties []string `json:"specialties,omitempty"`
}

// Booking is a dated occurrence of a class, optionally with an attendee.
type Booking struct {
	ClassID  string `json:"classId"`
	Date     string `json:"date"` // YYYY-MM-DD
	Teacher  string `json:"teacher,omitempty"`
	Comments string `json:"comments,omitempty"`
	Attendee string `json:"attendee,omitempty"`
}
