package attendance

import "fmt"

// TransitionError rejects a requested status against the employee's last
// status today. The message is user-facing kiosk text.
type TransitionError struct {
	Reason string
}

func (e *TransitionError) Error() string { return e.Reason }

// Decide applies the daily attendance cycle to one requested status.
//
// The valid path per employee per local calendar day is
// none -> masuk -> pulang -> lembur -> pulang_lembur. A new day resets the
// last status to none. Rejection precedence for pulang is fixed: not clocked
// in yet, already clocked out, then wrong prior state. masuk is only refused
// while the last status is masuk itself, so a clock-in after a completed
// overtime cycle starts a fresh shift.
func Decide(requested, last Status, name string) error {
	switch requested {
	case StatusMasuk:
		if last == StatusMasuk {
			return &TransitionError{Reason: name + " sudah absen masuk hari ini"}
		}
	case StatusPulang:
		switch {
		case last == StatusNone:
			return &TransitionError{Reason: name + " belum absen masuk hari ini"}
		case last == StatusPulang:
			return &TransitionError{Reason: name + " sudah absen pulang hari ini"}
		case last != StatusMasuk && last != StatusLembur:
			return &TransitionError{Reason: name + " belum absen masuk atau lembur sebelum pulang"}
		}
	case StatusLembur:
		if last != StatusPulang {
			return &TransitionError{Reason: name + " harus absen pulang terlebih dahulu sebelum lembur"}
		}
	case StatusPulangLembur:
		if last != StatusLembur {
			return &TransitionError{Reason: name + " belum absen lembur hari ini"}
		}
	default:
		return &TransitionError{Reason: fmt.Sprintf(
			"Status tidak valid. Gunakan: %s, %s, %s, %s",
			StatusMasuk, StatusPulang, StatusLembur, StatusPulangLembur)}
	}
	return nil
}
