// Package config resolves, parses, validates, and defaults parley configuration.
package config

import "fmt"

// Config is the fully materialized runtime configuration.
type Config struct {
	OpenAI       OpenAIConfig
	Deepgram     DeepgramConfig
	Responder    ResponderConfig
	Recognition  RecognitionConfig
	Audio        AudioConfig
	Conversation ConversationConfig
	HTTP         HTTPConfig
	Vocab        VocabConfig
	Debug        DebugConfig
}

const (
	ResponderOpenAI = "openai"
	ResponderGRPC   = "grpc"

	RecognitionDeepgram = "deepgram"
	RecognitionNone     = "none"
)

// OpenAIConfig selects the models used for chat, transcription, and speech.
type OpenAIConfig struct {
	ChatModel          string
	TranscriptionModel string
	SpeechModel        string
	Voice              string
	Language           string
}

// DeepgramConfig controls the live recognition socket.
type DeepgramConfig struct {
	Endpoint       string
	Model          string
	Language       string
	EndpointingMS  int
	UtteranceEndMS int
	KeepAliveMS    int
	SentenceCase   bool
}

// ResponderConfig picks where replies come from.
type ResponderConfig struct {
	Backend           string
	GRPCTarget        string
	GRPCMethod        string
	GRPCHealthService string
	TimeoutMS         int
}

type RecognitionConfig struct {
	Backend string
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input      string
	Fallback   string
	SampleRate int
}

// ConversationConfig tunes the turn loop.
type ConversationConfig struct {
	SystemPrompt          string
	FallbackText          string
	RearmGraceMS          int
	MaxRecognitionRetries int
	StartContinuous       bool
}

type HTTPConfig struct {
	// Listen is a host:port for the status API; empty disables it.
	Listen string
}

// VocabConfig controls enabled keyword sets sent to the recognizer.
type VocabConfig struct {
	GlobalSets []string
	Sets       map[string]VocabSet
	MaxPhrases int
}

// VocabSet is one named phrase group with a shared boost value.
type VocabSet struct {
	Name    string
	Boost   float64
	Phrases []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	AudioDump bool
}

// Secrets are read from the environment, never from the config file.
type Secrets struct {
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL"`
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY"`
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

func (w Warning) String() string {
	if w.Line > 0 {
		return fmt.Sprintf("line %d: %s", w.Line, w.Message)
	}
	return w.Message
}

// Keyword is one normalized recognizer hint.
type Keyword struct {
	Phrase string
	Boost  float64
}
