// Package models defines the data structures shared by the coordination core.
package models

import "time"

// PresenceStatus enumerates the states a subject can report.
type PresenceStatus string

const (
	PresenceOnline       PresenceStatus = "online"
	PresenceInCall       PresenceStatus = "in-call"
	PresenceTransmitting PresenceStatus = "transmitting"
	PresenceOffline      PresenceStatus = "offline"
)

// PresenceRecord is one subject's liveness record. The backend data service
// is the system of record; the owning client refreshes it on every heartbeat
// tick. A record with no writes inside the recency window is treated as
// offline even without an explicit offline write.
type PresenceRecord struct {
	SubjectID      string         `json:"subjectId"`
	Status         PresenceStatus `json:"status"`
	NetID          string         `json:"netId,omitempty"`
	LastActivityAt time.Time      `json:"lastActivityAt"`
	IsTransmitting bool           `json:"isTransmitting"`
}

// Online reports whether the record counts as online at the given instant
// for the given recency window.
func (r PresenceRecord) Online(now time.Time, window time.Duration) bool {
	return now.Sub(r.LastActivityAt) <= window
}

// Roster is the derived read-side view of who is online. Err carries the
// last read failure without clearing the last-known entries; stale data
// beats an empty roster.
type Roster struct {
	Records   []PresenceRecord `json:"records"`
	FetchedAt time.Time        `json:"fetchedAt"`
	Err       string           `json:"error,omitempty"`
}

// OnlineCount returns the number of records inside the recency window.
func (r Roster) OnlineCount(now time.Time, window time.Duration) int {
	n := 0
	for _, rec := range r.Records {
		if rec.Online(now, window) {
			n++
		}
	}
	return n
}
