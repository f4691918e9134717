package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User model
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName  string             `bson:"fullname" json:"fullname"`
	Email     string             `bson:"email" json:"email"`
	HPassword string             `bson:"password" json:"-"`
	Role      string             `bson:"role" json:"role"`
	// PayoutDestination is a verified UPI-style handle (name@bank).
	PayoutDestination string    `bson:"payout_destination,omitempty" json:"payout_destination,omitempty"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
}

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)
