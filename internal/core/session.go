package core

import (
	"errors"
	"strings"
)

// SessionIdentity mirrors the backend session: who is signed in and to
// which household. Every field is empty when nobody is signed in.
type SessionIdentity struct {
	User          UserCode     `json:"user"`
	UserName      string       `json:"user_name"`
	HouseholdCode string       `json:"household_code"`
	HouseholdName string       `json:"household_name"`
	Members       *MemberNames `json:"members,omitempty"`
	SessionToken  string       `json:"session_token,omitempty"`
}

type (
	CreateHouseholdInput struct {
		HouseholdName string `json:"household_name"`
		Member1Name   string `json:"member_1_name"`
		Member2Name   string `json:"member_2_name"`
		Passcode      string `json:"passcode"`
	}

	LoginInput struct {
		HouseholdName string `json:"household_name"`
		Name          string `json:"name"`
		Passcode      string `json:"passcode"`
	}
)

var (
	ErrIncompleteCreate = errors.New("fill all create household fields")
	ErrIncompleteLogin  = errors.New("fill all join household fields")
)

func (s SessionIdentity) SignedIn() bool {
	return s.UserName != ""
}

// Trimmed returns the input with names trimmed. Passcodes are kept as typed.
func (in CreateHouseholdInput) Trimmed() CreateHouseholdInput {
	in.HouseholdName = strings.TrimSpace(in.HouseholdName)
	in.Member1Name = strings.TrimSpace(in.Member1Name)
	in.Member2Name = strings.TrimSpace(in.Member2Name)
	return in
}

func (in CreateHouseholdInput) Validate() error {
	t := in.Trimmed()
	if t.HouseholdName == "" || t.Member1Name == "" || t.Member2Name == "" || strings.TrimSpace(in.Passcode) == "" {
		return ErrIncompleteCreate
	}
	return nil
}

func (in LoginInput) Trimmed() LoginInput {
	in.HouseholdName = strings.TrimSpace(in.HouseholdName)
	in.Name = strings.TrimSpace(in.Name)
	return in
}

func (in LoginInput) Validate() error {
	t := in.Trimmed()
	if t.HouseholdName == "" || t.Name == "" || strings.TrimSpace(in.Passcode) == "" {
		return ErrIncompleteLogin
	}
	return nil
}
