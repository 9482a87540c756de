// Package types holds the wire DTOs and session records shared between
// partnerlink internals and embedding applications.
package types

import (
	"fmt"
	"time"
)

// AuthTokens is the credential pair returned by the auth endpoints.
//
// The access token is short-lived and attached to socket handshakes; the
// refresh token is long-lived and only ever read back to call the refresh
// endpoint.
type AuthTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SessionMeta is derived auth-state metadata persisted alongside tokens.
//
// TokenExpiryTime is computed client-side from the access token's exp claim
// without verifying the signature. It is a UX estimate only; the server stays
// the source of truth for token validity.
type SessionMeta struct {
	IsAuthenticated bool       `json:"isAuthenticated"`
	LastLoginTime   *time.Time `json:"lastLoginTime,omitempty"`
	TokenExpiryTime *time.Time `json:"tokenExpiryTime,omitempty"`
}

// Identity is the currently authenticated partner, as reported by the
// embedding app's auth layer.
type Identity struct {
	PartnerID string `json:"partnerId"`
}

// Location is an optional courier position attached to order updates.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OrderStatusUpdate is the wire payload of the orderStatusUpdate event.
type OrderStatusUpdate struct {
	OrderID       string    `json:"orderId"`
	Status        string    `json:"status"`
	Timestamp     int64     `json:"timestamp"`
	Message       string    `json:"message,omitempty"`
	EstimatedTime string    `json:"estimatedTime,omitempty"`
	Location      *Location `json:"location,omitempty"`
}

// Validate reports whether the update carries the fields every consumer
// depends on. Malformed frames are dropped at the bridge, not propagated.
func (u *OrderStatusUpdate) Validate() error {
	if u.OrderID == "" {
		return fmt.Errorf("orderStatusUpdate missing orderId")
	}
	if u.Status == "" {
		return fmt.Errorf("orderStatusUpdate missing status")
	}
	return nil
}

// NotificationType classifies notification events.
type NotificationType string

const (
	NotificationOrderStatus NotificationType = "order_status"
	NotificationGeneral     NotificationType = "general"
	NotificationPromotion   NotificationType = "promotion"
	NotificationSystem      NotificationType = "system"
)

// Notification is the wire payload of the notification event.
type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Data      map[string]any   `json:"data,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// Validate reports whether the notification carries its required fields.
func (n *Notification) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("notification missing id")
	}
	if n.Message == "" {
		return fmt.Errorf("notification missing message")
	}
	switch n.Type {
	case NotificationOrderStatus, NotificationGeneral, NotificationPromotion, NotificationSystem:
		return nil
	case "":
		return fmt.Errorf("notification missing type")
	default:
		return fmt.Errorf("notification has unknown type %q", n.Type)
	}
}
