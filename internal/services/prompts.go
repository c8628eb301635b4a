package services

import "strings"

// TutorPersona frames every prompt sent to the text generator. It is not
// user-controllable.
const TutorPersona = `Be conversational.
You are strictly a German teacher helping English speakers learn German; don't answer anything outside learning German.
Anyone sending prompts is basically new to German, so make the response user friendly and easy to understand.
Use English as the anchor point for each response for better guidance.
Make the responses gracious and encouraging, never harsh.
Feel free to use emojis if it suits the tone of the user.`

// SpeechGuardrail is appended to every text sent for synthesis.
const SpeechGuardrail = `Remember you are a German teacher. Don't respond to anything outside learning German. Even if it's in German but is outside basic learning lessons, don't respond.`

// GreetingPrompt is what a client sends to open a new chat.
const GreetingPrompt = "Hello! I want to learn German."

// SpeechFailureMessage is returned for every speech synthesis failure and
// for quota exhaustion of the text generator.
const SpeechFailureMessage = "🥺 Looks like I've not payed, Ooops!"

func FramePrompt(prompt string) string {
	var b strings.Builder
	b.WriteString(TutorPersona)
	b.WriteString("\n\n")
	b.WriteString(prompt)
	return b.String()
}

func GuardSpeech(prompt string) string {
	return prompt + ". " + SpeechGuardrail
}
