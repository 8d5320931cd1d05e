package domain

import "time"

// TimestampLayout is the local-time format used for last_ping and the
// built-in last-success keys.
const TimestampLayout = "2006-01-02 15:04:05"

type EndpointID string

// Endpoint is a user-added custom endpoint as persisted in the store.
type Endpoint struct {
	ID       EndpointID `json:"id"`
	Name     string     `json:"name"`
	URL      string     `json:"url"`
	Online   bool       `json:"online"`
	LastPing string     `json:"last_ping"`
}

// Document is the on-disk shape of the endpoint store.
type Document struct {
	Nodes     []Endpoint `json:"nodes"`
	AllOnline bool       `json:"all_online"`
}

// Timestamp formats t the way last_ping values are stored.
func Timestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}
