package roster

import (
	"reflect"
	"testing"
)

func TestResolveHeader(t *testing.T) {
	tests := []struct {
		name    string
		cells   []string
		wantErr bool
		course  bool
	}{
		{"canonical", []string{"First Name", "Last Name", "Email Address", "Course IDs"}, false, true},
		{"aliases", []string{"givenname", "Surname", "mail"}, false, false},
		{"underscored", []string{"first_name", "last_name", "e-mail"}, false, false},
		{"course singular", []string{"First", "Last", "Email", "Course"}, false, true},
		{"missing email", []string{"First Name", "Last Name"}, true, false},
		{"empty", []string{}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ResolveHeader(tt.cells)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveHeader(%v) error = %v, wantErr %v", tt.cells, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if h.HasCourses() != tt.course {
				t.Errorf("HasCourses() = %v, want %v", h.HasCourses(), tt.course)
			}
		})
	}
}

func TestResolveHeader_Positions(t *testing.T) {
	h, err := ResolveHeader([]string{"Email Address", "Course IDs", "Last Name", "First Name"})
	if err != nil {
		t.Fatalf("ResolveHeader error = %v", err)
	}
	if h.Email != 0 || h.Course != 1 || h.Last != 2 || h.First != 3 {
		t.Errorf("positions = email:%d course:%d last:%d first:%d", h.Email, h.Course, h.Last, h.First)
	}
}

func TestParseCourseIDs(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"101", []int{101}},
		{"101, 202", []int{101, 202}},
		{"101;202;101", []int{101, 202}},
		{"course 7 and 8", []int{7, 8}},
		{"", nil},
		{"none", nil},
		{"007", []int{7}},
	}

	for _, tt := range tests {
		got := ParseCourseIDs(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseCourseIDs(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestProcess(t *testing.T) {
	reg := NewRegistry()
	p := Processor{MaxUsernameLen: 100}

	rec := p.Process(RawRow{
		Index:     0,
		FirstName: " john ",
		LastName:  "SMITH",
		Email:     " John.Smith@Example.COM ",
		CourseRaw: "101, 202",
	}, reg)

	if rec.FirstName != "John" || rec.LastName != "Smith" {
		t.Errorf("display names = %q %q, want John Smith", rec.FirstName, rec.LastName)
	}
	if rec.Email != "john.smith@example.com" {
		t.Errorf("Email = %q", rec.Email)
	}
	if rec.Username != "johnsmith" {
		t.Errorf("Username = %q, want johnsmith", rec.Username)
	}
	if !reflect.DeepEqual(rec.CourseIDs, []int{101, 202}) {
		t.Errorf("CourseIDs = %v", rec.CourseIDs)
	}
	if rec.Invalid != "" {
		t.Errorf("Invalid = %q, want empty", rec.Invalid)
	}
}

func TestProcess_DuplicateNamesGetDistinctUsernames(t *testing.T) {
	reg := NewRegistry()
	p := Processor{MaxUsernameLen: 100}

	var usernames []string
	for i := 0; i < 3; i++ {
		rec := p.Process(RawRow{
			Index:     i,
			FirstName: "John",
			LastName:  "Smith",
			Email:     "john@example.com",
		}, reg)
		usernames = append(usernames, rec.Username)
	}

	want := []string{"johnsmith", "johnsmith2", "johnsmith3"}
	if !reflect.DeepEqual(usernames, want) {
		t.Errorf("usernames = %v, want %v", usernames, want)
	}
}

func TestProcess_InvalidEmailStillGetsUsername(t *testing.T) {
	reg := NewRegistry()
	p := Processor{}

	rec := p.Process(RawRow{FirstName: "Jane", LastName: "Doe", Email: "not-an-email"}, reg)

	if rec.Invalid == "" {
		t.Error("Invalid should be set for a malformed email")
	}
	if rec.Username != "janedoe" {
		t.Errorf("Username = %q, want janedoe", rec.Username)
	}
}

func TestProcess_EmailLocalPartFallback(t *testing.T) {
	reg := NewRegistry()
	p := Processor{}

	rec := p.Process(RawRow{FirstName: "!!!", LastName: "???", Email: "fallback.name@example.com"}, reg)
	if rec.Username != "fallbackname" {
		t.Errorf("Username = %q, want fallbackname", rec.Username)
	}
}

func TestProcess_PlaceholderFallback(t *testing.T) {
	reg := NewRegistry()
	p := Processor{}

	first := p.Process(RawRow{Email: "@@"}, reg)
	second := p.Process(RawRow{Email: "##"}, reg)

	if first.Username != "user" || second.Username != "user2" {
		t.Errorf("usernames = %q, %q; want user, user2", first.Username, second.Username)
	}
}
