package storage

import (
	"bytes"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// MaxHistory is the number of previous passwords retained per credential
const MaxHistory = 5

// RecentWindow is the usage window counted by Statistics
const RecentWindow = 7 * 24 * time.Hour

// MasterSettings is the vault singleton written by setup
type MasterSettings struct {
	Salt           []byte
	Iterations     int
	Verifier       []byte
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Credential is a stored website login. Secret fields hold ciphertext blobs.
type Credential struct {
	ID                string    `json:"id"`
	Domain            string    `json:"domain"`
	Username          string    `json:"username,omitempty"`
	EncryptedPassword []byte    `json:"encryptedPassword"`
	EncryptedNotes    []byte    `json:"encryptedNotes,omitempty"`
	Favicon           string    `json:"favicon,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	Fingerprint       []byte    `json:"fingerprint,omitempty"` // keyed MAC of the plaintext password
	CreatedAt         time.Time `json:"createdAt"`
	ModifiedAt        time.Time `json:"modifiedAt"`
	LastUsedAt        time.Time `json:"lastUsedAt"`
	UseCount          int64     `json:"useCount"`
}

// HistoryRecord is a password a credential used to have
type HistoryRecord struct {
	ID                   string    `json:"id"`
	CredentialID         string    `json:"credentialId"`
	EncryptedOldPassword []byte    `json:"encryptedOldPassword"`
	ChangedAt            time.Time `json:"changedAt"`
}

// Note is a secure note
type Note struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	EncryptedContent []byte    `json:"encryptedContent"`
	CreatedAt        time.Time `json:"createdAt"`
	ModifiedAt       time.Time `json:"modifiedAt"`
}

// Dump holds every entry row of a vault. History is ordered oldest first
// per credential.
type Dump struct {
	Credentials []Credential    `json:"credentials"`
	History     []HistoryRecord `json:"history"`
	Notes       []Note          `json:"notes"`
}

// ImportCounts reports what ImportAll wrote
type ImportCounts struct {
	Credentials int `json:"credentials"`
	History     int `json:"history"`
	Notes       int `json:"notes"`
	Skipped     int `json:"skipped"`
}

// Statistics aggregates vault contents
type Statistics struct {
	TotalCredentials int      `json:"totalCredentials"`
	TotalNotes       int      `json:"totalNotes"`
	RecentlyUsed     int      `json:"recentlyUsed"`
	DuplicateGroups  int      `json:"duplicateGroups"`
	Tags             []string `json:"tags"`
}

// sortCredentials orders by last use, then last modification, newest first
func sortCredentials(creds []Credential) {
	sort.SliceStable(creds, func(i, j int) bool {
		a, b := creds[i], creds[j]
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.After(b.LastUsedAt)
		}
		if !a.ModifiedAt.Equal(b.ModifiedAt) {
			return a.ModifiedAt.After(b.ModifiedAt)
		}
		return a.ID < b.ID
	})
}

func sortNotes(notes []Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		if !notes[i].ModifiedAt.Equal(notes[j].ModifiedAt) {
			return notes[i].ModifiedAt.After(notes[j].ModifiedAt)
		}
		return notes[i].ID < notes[j].ID
	})
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// matchesDomain reports whether c passes an optional domain filter
func matchesDomain(c *Credential, filter string) bool {
	return filter == "" || containsFold(c.Domain, filter)
}

// matchesQuery reports whether c's domain or username contains query
func matchesQuery(c *Credential, query string) bool {
	return query == "" || containsFold(c.Domain, query) || containsFold(c.Username, query)
}

// filterCredentials keeps the credentials accepted by keep, in order
func filterCredentials(creds []Credential, keep func(*Credential) bool) []Credential {
	out := creds[:0]
	for i := range creds {
		if keep(&creds[i]) {
			out = append(out, creds[i])
		}
	}
	return out
}

// normalizeTags trims, drops empties and duplicates, and sorts
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// groupDuplicates groups credentials sharing a fingerprint. Groups are
// sorted by their first member's domain, members by domain then id.
func groupDuplicates(creds []Credential) [][]Credential {
	byFP := make(map[string][]Credential)
	for _, c := range creds {
		if len(c.Fingerprint) == 0 {
			continue
		}
		k := hex.EncodeToString(c.Fingerprint)
		byFP[k] = append(byFP[k], c)
	}

	groups := make([][]Credential, 0)
	for _, g := range byFP {
		if len(g) < 2 {
			continue
		}
		sort.Slice(g, func(i, j int) bool {
			if g[i].Domain != g[j].Domain {
				return g[i].Domain < g[j].Domain
			}
			return g[i].ID < g[j].ID
		})
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i][0].Domain != groups[j][0].Domain {
			return groups[i][0].Domain < groups[j][0].Domain
		}
		return groups[i][0].ID < groups[j][0].ID
	})
	return groups
}

// computeStatistics derives Statistics from full credential and note sets
func computeStatistics(creds []Credential, notes int, now time.Time) *Statistics {
	stats := &Statistics{
		TotalCredentials: len(creds),
		TotalNotes:       notes,
		DuplicateGroups:  len(groupDuplicates(creds)),
	}
	cutoff := now.Add(-RecentWindow)
	var tags []string
	for _, c := range creds {
		if !c.LastUsedAt.IsZero() && c.LastUsedAt.After(cutoff) {
			stats.RecentlyUsed++
		}
		tags = append(tags, c.Tags...)
	}
	stats.Tags = normalizeTags(tags)
	return stats
}

func passwordChanged(prev, next *Credential) bool {
	return !bytes.Equal(prev.EncryptedPassword, next.EncryptedPassword)
}
