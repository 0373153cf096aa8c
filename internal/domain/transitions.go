package domain

import "fmt"

// ActorRole is who is driving a lifecycle operation.
type ActorRole string

const (
	ActorCustomer ActorRole = "customer"
	ActorAdmin    ActorRole = "admin"
	ActorSystem   ActorRole = "system"
)

type Actor struct {
	UserID string
	Role   ActorRole
}

// SystemActor is used by background jobs.
var SystemActor = Actor{Role: ActorSystem}

type transition struct {
	from, to Status
}

// transitions is the complete set of permitted status changes and the roles
// allowed to make each one. Anything absent is rejected.
//
// issued→assembling and cancelled→unconfirmed are administrative reversals.
var transitions = map[transition][]ActorRole{
	{StatusUnconfirmed, StatusAssembling}: {ActorAdmin},
	{StatusUnconfirmed, StatusReady}:      {ActorAdmin},
	{StatusUnconfirmed, StatusCancelled}:  {ActorAdmin, ActorCustomer},

	{StatusAssembling, StatusUnconfirmed}: {ActorAdmin},
	{StatusAssembling, StatusReady}:       {ActorAdmin},
	{StatusAssembling, StatusCancelled}:   {ActorAdmin, ActorCustomer},

	{StatusReady, StatusAssembling}: {ActorAdmin},
	{StatusReady, StatusIssued}:     {ActorAdmin},
	{StatusReady, StatusCancelled}:  {ActorAdmin, ActorCustomer, ActorSystem},

	{StatusIssued, StatusAssembling}: {ActorAdmin},

	{StatusCancelled, StatusUnconfirmed}: {ActorAdmin},
}

// CanTransition reports whether role may move an order from one status to another.
func CanTransition(from, to Status, role ActorRole) bool {
	for _, r := range transitions[transition{from, to}] {
		if r == role {
			return true
		}
	}
	return false
}

// CheckTransition is CanTransition returning a wrapped ErrInvalidTransition.
func CheckTransition(from, to Status, role ActorRole) error {
	if !CanTransition(from, to, role) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, from, to, role)
	}
	return nil
}
