package models

import "time"

// Student is a directory entry. The engine only reads it.
type Student struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	CardID      string    `db:"card_id" json:"card_id"`
	ClassID     string    `db:"class_id" json:"class_id"`
	RollNumber  string    `db:"roll_number" json:"roll_number,omitempty"`
	ParentName  string    `db:"parent_name" json:"parent_name,omitempty"`
	ParentEmail string    `db:"parent_email" json:"parent_email,omitempty"`
	ParentPhone string    `db:"parent_phone" json:"parent_phone,omitempty"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
