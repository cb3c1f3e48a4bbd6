package domain

import (
	"fmt"
	"strings"
	"time"
)

// User is a persisted account row in user_details.
type User struct {
	ID           int64     `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Age          int       `json:"age"`
	Address      string    `json:"address"`
	Gender       Gender    `json:"gender"`
	Mobile       string    `json:"mobile"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// PaymentInstrument is a persisted row in card_details, owned by UserID.
type PaymentInstrument struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	CardholderName string    `json:"cardholder_name"`
	CardType       CardType  `json:"card_type"`
	CardNumber     string    `json:"-"`
	CVV            string    `json:"-"`
	Expiry         time.Time `json:"expiry"`
}

// NewUser assembles the row written on commit from a verified profile.
func NewUser(p *ProfileDraft, username, passwordHash string) *User {
	return &User{
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Age:          p.Age,
		Address:      p.Address,
		Gender:       p.Gender,
		Mobile:       p.Mobile,
		Email:        p.Email,
		Username:     username,
		PasswordHash: passwordHash,
	}
}

func NewPaymentInstrument(p *PaymentDraft) *PaymentInstrument {
	return &PaymentInstrument{
		CardholderName: p.CardholderName,
		CardType:       p.CardType,
		CardNumber:     p.CardNumber,
		CVV:            p.CVV,
		Expiry:         p.Expiry,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
}

func (r *LoginRequest) Validate() error {
	if r.Username == "" {
		return fmt.Errorf("username is required")
	}
	if r.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        *UserInfo `json:"user"`
}

// UserInfo is the account view returned to the owner. Card data is masked.
type UserInfo struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email"`
	Mobile     string    `json:"mobile"`
	CardType   CardType  `json:"card_type,omitempty"`
	CardLast4  string    `json:"card_last4,omitempty"`
	CardExpiry string    `json:"card_expiry,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (u *User) ToUserInfo(card *PaymentInstrument) *UserInfo {
	info := &UserInfo{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Mobile:    u.Mobile,
		CreatedAt: u.CreatedAt,
	}
	if card != nil {
		info.CardType = card.CardType
		info.CardExpiry = card.Expiry.Format("2006-01")
		if n := len(card.CardNumber); n >= 4 {
			info.CardLast4 = card.CardNumber[n-4:]
		}
	}
	return info
}
