package models

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// OperationType is the kind of generation the user requested.
type OperationType string

const (
	OperationTextToImage  OperationType = "text-to-image"
	OperationImageToImage OperationType = "image-to-image"
)

func (o OperationType) Valid() bool {
	return o == OperationTextToImage || o == OperationImageToImage
}

type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         Role
	Credits      int
	FreeT2ICount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Image is a generated artifact. Filename doubles as the object storage key.
type Image struct {
	ID            int64
	Filename      string
	Prompt        string
	OriginalImage string
	UserID        int64
	URL           string
	CreatedAt     time.Time
}

// UsageRecord is an append-only fact written once per successful settlement.
type UsageRecord struct {
	ID        int64
	UserID    int64
	Type      OperationType
	Cost      int
	IsFree    bool
	ImageID   *int64
	CreatedAt time.Time
}

type RechargeRecord struct {
	ID         int64
	UserID     int64
	Amount     int
	OperatorID *int64
	Reason     string
	CreatedAt  time.Time
}

// SettleOutcome reports what a settlement actually charged.
type SettleOutcome struct {
	Charged  bool
	Cost     int
	UsedFree bool
	Credits  int
}
