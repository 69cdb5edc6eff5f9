package emisapi

import (
	"encoding/json"
	"strings"
	"time"
)

// User is the user record returned at login and cached in the session.
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Firstname         string     `json:"firstname,omitempty"`
	Lastname          string     `json:"lastname,omitempty"`
	Role              string     `json:"role"`
	HasProfilePicture bool       `json:"hasProfilePicture"`
	IsOnline          bool       `json:"isOnline,omitempty"`
	IsLocked          bool       `json:"isLocked,omitempty"`
	CurrentPage       string     `json:"currentPage,omitempty"`
	LastActivity      *time.Time `json:"lastActivity,omitempty"`
}

// UnmarshalJSON accepts both "id" and the document-store "_id".
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var aux struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*u = User(aux.plain)
	if u.ID == "" {
		u.ID = aux.MongoID
	}
	return nil
}

// DisplayName joins first and last name, falling back to the email.
func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.Firstname) + " " + strings.TrimSpace(u.Lastname))
	if name == "" {
		return u.Email
	}
	return name
}

// LoginResult is the body of a successful login.
type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Audit actions recorded by the API.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// AuditActor is the populated user reference of an audit entry.
type AuditActor struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Email     string `json:"email"`
}

// AuditEntry is one read-only audit log record. Changes is kept raw: an
// opaque document for CREATE/DELETE, field -> {before, after} for UPDATE.
type AuditEntry struct {
	Timestamp      time.Time       `json:"timestamp"`
	User           *AuditActor     `json:"userId"`
	Action         string          `json:"action"`
	CollectionName string          `json:"collectionName"`
	AccountNo      string          `json:"accountNo,omitempty"`
	Changes        json.RawMessage `json:"changes,omitempty"`
}

// AuditQuery filters a paged audit request.
type AuditQuery struct {
	Page           int
	Limit          int
	Action         string
	CollectionName string
}

// AuditPage is one server-side page of audit entries.
type AuditPage struct {
	Logs  []AuditEntry `json:"logs"`
	Total int          `json:"total"`
}

// BarangayStat aggregates businesses in one barangay.
type BarangayStat struct {
	Barangay  string  `json:"barangay"`
	Count     int     `json:"count"`
	TotalPaid float64 `json:"totalPaid,omitempty"`
}

// MonthlyTotal is the amount collected in one month.
type MonthlyTotal struct {
	Month string  `json:"month"`
	Total float64 `json:"total"`
	Count int     `json:"count,omitempty"`
}

// BusinessStats is the dashboard aggregate for one registry year.
type BusinessStats struct {
	TotalBusinesses       int            `json:"totalBusinesses"`
	ActiveBusinessesCount int            `json:"activeBusinessesCount"`
	StatusCounts          map[string]int `json:"statusCounts"`
	RenewalPendingCount   int            `json:"renewalPendingCount"`
	TotalAmountPaid       float64        `json:"totalAmountPaid"`
	BarangayStats         []BarangayStat `json:"barangayStats"`
	MonthlyTotals         []MonthlyTotal `json:"monthlyTotals"`
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// MapBusiness is a business listed under a map point.
type MapBusiness struct {
	AccountNo    string `json:"accountNo"`
	BusinessName string `json:"businessName"`
	Status       string `json:"status,omitempty"`
}

// MapPoint groups businesses at a barangay centroid.
type MapPoint struct {
	Barangay    string        `json:"barangay"`
	Coordinates Coordinates   `json:"coordinates"`
	Count       int           `json:"count"`
	Businesses  []MapBusiness `json:"businesses"`
}
