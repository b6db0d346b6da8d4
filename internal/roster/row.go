package roster

import (
	"fmt"
	"strconv"
	"strings"
)

// Header column aliases, matched after lowercasing and stripping
// non-letter characters ("First_Name" -> "firstname").
var (
	firstNameAliases = []string{"firstname", "givenname", "forename", "first"}
	lastNameAliases  = []string{"lastname", "surname", "familyname", "last"}
	emailAliases     = []string{"emailaddress", "email", "mail", "emailid", "emailaddr", "eaddress"}
	courseAliases    = []string{"courseids", "courseid", "course", "courses"}
)

// Header maps the roster's required and optional columns to their positions.
type Header struct {
	Columns []string // original header cells, preserved for the export

	First  int
	Last   int
	Email  int
	Course int // -1 when the roster carries no course column
}

// HasCourses reports whether the roster includes a course-id column.
func (h *Header) HasCourses() bool { return h.Course >= 0 }

// ResolveHeader matches a CSV header row against the known column aliases.
// Returns an error naming the found columns when a required one is missing.
func ResolveHeader(cells []string) (*Header, error) {
	h := &Header{Columns: cells, First: -1, Last: -1, Email: -1, Course: -1}

	for i, cell := range cells {
		key := normalizeHeaderKey(cell)
		switch {
		case h.First < 0 && matchesAlias(key, firstNameAliases):
			h.First = i
		case h.Last < 0 && matchesAlias(key, lastNameAliases):
			h.Last = i
		case h.Email < 0 && matchesAlias(key, emailAliases):
			h.Email = i
		case h.Course < 0 && matchesAlias(key, courseAliases):
			h.Course = i
		}
	}

	if h.First < 0 || h.Last < 0 || h.Email < 0 {
		return nil, fmt.Errorf(
			"missing required columns: expected at least 'First Name', 'Last Name', 'Email Address'; found: %s",
			strings.Join(cells, ", "))
	}
	return h, nil
}

// normalizeHeaderKey lowercases a header cell and keeps only letters,
// so "First_Name", "first name", and a BOM-prefixed "firstname" all compare equal.
func normalizeHeaderKey(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\ufeff")
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func matchesAlias(key string, aliases []string) bool {
	for _, a := range aliases {
		if key == a {
			return true
		}
	}
	return false
}

// RawRow is one untrusted CSV data row. Cells preserves the original values
// for the export; the named fields are extracted via the resolved header.
type RawRow struct {
	Index     int // zero-based position among data rows
	Cells     []string
	FirstName string
	LastName  string
	Email     string
	CourseRaw string
}

// Record is the canonical sync unit built from one RawRow: cleaned display
// names, validated email, a unique generated username, and parsed course ids.
// Invalid is non-empty when the row must be exported but not synced.
type Record struct {
	Index     int
	FirstName string
	LastName  string
	Email     string
	Username  string
	CourseIDs []int
	Invalid   string // validation failure reason, "" when the row is syncable
}

// Processor turns raw rows into Records, consulting a shared Registry so
// every generated username is unique within the batch.
type Processor struct {
	// MaxUsernameLen caps generated usernames; 0 means unlimited.
	MaxUsernameLen int
}

// Process normalizes one row and reserves its username. The username is
// generated for every row, including invalid ones, so the export always
// carries a username; only the sync step is skipped for invalid rows.
func (p Processor) Process(row RawRow, reg *Registry) Record {
	email := CleanEmail(row.Email)

	rec := Record{
		Index:     row.Index,
		FirstName: CapWords(row.FirstName),
		LastName:  CapWords(row.LastName),
		Email:     email,
		CourseIDs: ParseCourseIDs(row.CourseRaw),
	}

	base := usernameBase(row.FirstName, row.LastName, email)
	rec.Username = reg.Reserve(base, p.MaxUsernameLen)

	if !ValidEmail(email) {
		rec.Invalid = fmt.Sprintf("invalid email address %q", row.Email)
	}
	return rec
}

// usernameBase derives the deterministic username base: the normalized full
// name, falling back to the email local part, falling back to the placeholder.
func usernameBase(rawFirst, rawLast, email string) string {
	n := Normalize(rawFirst, rawLast)
	if base := n.First + n.Last; base != PlaceholderName && base != "" {
		return base
	}
	if local, _, ok := strings.Cut(email, "@"); ok {
		if base := Slug(local); base != "" {
			return base
		}
	}
	return PlaceholderName
}

// ParseCourseIDs extracts numeric course ids from free-form text. Any run of
// digits counts as one id; duplicates are dropped preserving first occurrence.
// "101, 202;101" -> [101 202].
func ParseCourseIDs(s string) []int {
	var out []int
	seen := make(map[int]bool)

	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		id, err := strconv.Atoi(s[start:end])
		start = -1
		if err != nil || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
	}
	flush(len(s))
	return out
}
