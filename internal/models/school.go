package models

import "time"

// School is a beneficiary institution in the device distribution program.
type School struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Code         string    `db:"code" json:"code"`
	District     string    `db:"district" json:"district"`
	Sector       string    `db:"sector" json:"sector"`
	ContactEmail string    `db:"contact_email" json:"contact_email"`
	ContactPhone string    `db:"contact_phone" json:"contact_phone"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SchoolFilter captures listing criteria for schools.
type SchoolFilter struct {
	District  string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
