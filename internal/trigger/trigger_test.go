package trigger

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"exact phrase", "Connecting you to a human operator now. Please keep this chat open.", true},
		{"case insensitive", "ESCALATION CREATED. WAITING FOR OPERATOR ASSIGNMENT.", true},
		{"embedded", "I understand. Speak with an emergency operator right away by calling 911.", true},
		{"ordinary reply", "Stay indoors and away from windows during the storm.", false},
		{"near miss", "An operator may contact you later.", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.text); got != tt.want {
				t.Errorf("Detect(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
