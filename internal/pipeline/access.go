package pipeline

import (
	"fmt"
	"log"

	"github.com/studyshare/notegate/internal/model"
)

// AccessDecision is the outcome of the download-time gate.
type AccessDecision struct {
	Allowed bool
	Kind    model.RejectionKind
	Reason  string
}

func allow() AccessDecision {
	return AccessDecision{Allowed: true}
}

func deny(reason string) AccessDecision {
	return AccessDecision{Kind: model.RejectAccessDenied, Reason: reason}
}

// CheckDownloadAccess enforces that a note's bytes are released only inside
// its cohort: the requester's academic year must match the note's recorded
// year unless the note carries the all-years override. Denials are security
// events and are logged with both identities and both years.
func CheckDownloadAccess(p model.Principal, note *model.Note) AccessDecision {
	if p.UserID == "" {
		return deny("authentication required")
	}
	if note.Flagged {
		// Quarantined by the audit rescan; nobody downloads it.
		log.Printf("security: download of flagged note refused requester=%s note=%s reason=%q",
			p.UserID, note.ID, note.FlagReason)
		return deny("this note is unavailable")
	}
	if note.AllYears || p.AcademicYear == note.AcademicYear {
		return allow()
	}
	log.Printf("security: year mismatch requester=%s note=%s requester_year=%d note_year=%d",
		p.UserID, note.ID, p.AcademicYear, note.AcademicYear)
	return deny(fmt.Sprintf("this note is restricted to year %d students", note.AcademicYear))
}
