package passes

import "strings"

// EntryPass is one person's admission credential as stored.
type EntryPass struct {
	PassID   string `json:"pass_id"`
	Name     string `json:"name"`
	RollNo   string `json:"roll_no"`
	Attended bool   `json:"attended"`
}

// PassDetail is an EntryPass with its derived fields attached.
type PassDetail struct {
	PassID   string `json:"pass_id"`
	Name     string `json:"name"`
	RollNo   string `json:"roll_no"`
	Attended bool   `json:"attended"`
	Branch   string `json:"branch"`
	Year     string `json:"year"`
}

// Detail computes the derived fields for p.
func Detail(p EntryPass) PassDetail {
	return PassDetail{
		PassID:   p.PassID,
		Name:     p.Name,
		RollNo:   p.RollNo,
		Attended: p.Attended,
		Branch:   Branch(p.RollNo),
		Year:     Year(p.RollNo),
	}
}

// Branch derives the programme from a roll number. d1r is checked before d2r.
func Branch(rollNo string) string {
	switch {
	case strings.Contains(rollNo, "d1r"):
		return "MCA"
	case strings.Contains(rollNo, "d2r"):
		return "BCA"
	default:
		return "Unknown"
	}
}

// Year returns the first four characters of the roll number, or all of it when shorter.
func Year(rollNo string) string {
	r := []rune(rollNo)
	if len(r) <= 4 {
		return rollNo
	}
	return string(r[:4])
}
