package model

import "time"

// EventKind distinguishes generated holidays from user-owned events.
type EventKind string

const (
	KindHoliday  EventKind = "holiday"
	KindPersonal EventKind = "personal"
)

// CalendarEvent is a single-day entry on the calendar.
//
// Date is an opaque "YYYY-MM-DD" key; no timezone is attached to it.
// Holiday events are generated per year and never persisted.
type CalendarEvent struct {
	ID          string    `json:"id" dynamodbav:"id"`
	OwnerID     string    `json:"ownerId,omitempty" dynamodbav:"ownerId,omitempty"`
	Date        string    `json:"date" dynamodbav:"date" validate:"required,datekey"`
	Title       string    `json:"title" dynamodbav:"title" validate:"required,notblank,max=200"`
	Kind        EventKind `json:"type" dynamodbav:"type"`
	Color       string    `json:"color,omitempty" dynamodbav:"color,omitempty" validate:"omitempty,eventcolor"`
	Description string    `json:"description,omitempty" dynamodbav:"description,omitempty" validate:"max=2000"`
	CreatedAt   time.Time `json:"createdAt,omitempty" dynamodbav:"createdAt"`
}

// EventColor is one of the fixed color tags an event can carry.
type EventColor struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EventColors lists the selectable tags in picker order.
var EventColors = []EventColor{
	{Name: "Blue", Value: "bg-blue-100 text-blue-800 border-blue-200"},
	{Name: "Green", Value: "bg-green-100 text-green-800 border-green-200"},
	{Name: "Purple", Value: "bg-purple-100 text-purple-800 border-purple-200"},
	{Name: "Orange", Value: "bg-orange-100 text-orange-800 border-orange-200"},
	{Name: "Pink", Value: "bg-pink-100 text-pink-800 border-pink-200"},
	{Name: "Gray", Value: "bg-gray-100 text-gray-800 border-gray-200"},
}

// DefaultEventColor is applied when a new event carries no color.
var DefaultEventColor = EventColors[0].Value

// WeatherSample is the forecast for one date key.
type WeatherSample struct {
	MaxTemp       float64 `json:"maxTemp"`
	MinTemp       float64 `json:"minTemp"`
	ConditionCode int     `json:"conditionCode"`
	Condition     string  `json:"condition"`
	Icon          string  `json:"icon"`
}

// DayCell is one of the 42 cells of a month grid.
type DayCell struct {
	Date             time.Time `json:"-"`
	DateKey          string    `json:"date"`
	Day              int       `json:"day"`
	Weekday          int       `json:"weekday"`
	InDisplayedMonth bool      `json:"isCurrentMonth"`
	IsToday          bool      `json:"isToday"`
}

// Role of a chat message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "model"
)

// ChatMessage is one entry of the assistant conversation. Pending marks
// the assistant placeholder while a request is in flight.
type ChatMessage struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Text    string `json:"text"`
	Pending bool   `json:"isLoading,omitempty"`
}

// Identity is the signed-in user. The zero value means "signed out".
type Identity struct {
	UID      string `json:"uid"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// SignedIn reports whether the identity carries a user.
func (i Identity) SignedIn() bool {
	return i.UID != ""
}
