package telephony

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

// Script lines spoken on a reminder call.
const (
	greetingText = "नमस्कार. तुमची औषधे घेण्याची वेळ झाली आहे. कृपया आता औषध घ्या."
	promptText   = "जर तुम्ही औषध घेतले असेल तर १ दाबा, जर तुम्ही औषध घेतले नसेल तर २ दाबा."
	thanksText   = "धन्यवाद."
)

// ScriptOptions selects the speech language and voice.
type ScriptOptions struct {
	Language string
	Voice    string
}

// ReminderScript renders the fixed take-your-medicine call as TwiML: a
// greeting, then a single-digit acknowledgement prompt.
func ReminderScript(opts ScriptOptions) (string, error) {
	say := func(text string) twiml.VoiceSay {
		return twiml.VoiceSay{Message: text, Language: opts.Language, Voice: opts.Voice}
	}
	out, err := twiml.Voice([]twiml.Element{
		twiml.VoicePause{Length: "1"},
		say(greetingText),
		twiml.VoiceGather{
			NumDigits: "1",
			InnerElements: []twiml.Element{
				say(promptText),
				twiml.VoicePause{Length: "1"},
				say(thanksText),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return out, nil
}
