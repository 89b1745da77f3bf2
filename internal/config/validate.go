package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
// Missing credentials only disable the feature that needs them.
func Validate(cfg Config, secrets Secrets) ([]Warning, error) {
	warnings := make([]Warning, 0)

	switch cfg.Responder.Backend {
	case ResponderOpenAI:
		if secrets.OpenAIAPIKey == "" && secrets.OpenAIBaseURL == "" {
			warnings = append(warnings, Warning{Message: "OPENAI_API_KEY is not set; replies will fail"})
		}
	case ResponderGRPC:
		if cfg.Responder.GRPCTarget == "" {
			return nil, fmt.Errorf("responder.grpc_target must be set when responder.backend=grpc")
		}
		if !strings.HasPrefix(cfg.Responder.GRPCMethod, "/") {
			return nil, fmt.Errorf("responder.grpc_method must look like /package.Service/Method")
		}
	default:
		return nil, fmt.Errorf("responder.backend must be one of: openai, grpc")
	}
	if cfg.Responder.TimeoutMS <= 0 {
		return nil, fmt.Errorf("responder.timeout_ms must be > 0")
	}

	switch cfg.Recognition.Backend {
	case RecognitionDeepgram:
		if secrets.DeepgramAPIKey == "" {
			warnings = append(warnings, Warning{Message: "DEEPGRAM_API_KEY is not set; continuous mode unavailable"})
		}
		if _, err := url.Parse(cfg.Deepgram.Endpoint); err != nil || cfg.Deepgram.Endpoint == "" {
			return nil, fmt.Errorf("deepgram.endpoint must be a websocket URL")
		}
	case RecognitionNone:
	default:
		return nil, fmt.Errorf("recognition.backend must be one of: deepgram, none")
	}
	if cfg.Deepgram.EndpointingMS < 0 || cfg.Deepgram.UtteranceEndMS < 0 || cfg.Deepgram.KeepAliveMS < 0 {
		return nil, fmt.Errorf("deepgram timings must be >= 0")
	}

	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		return nil, fmt.Errorf("audio.sample_rate must be between 8000 and 48000")
	}
	if cfg.Conversation.RearmGraceMS < 0 {
		return nil, fmt.Errorf("conversation.rearm_grace_ms must be >= 0")
	}
	if cfg.Conversation.MaxRecognitionRetries <= 0 {
		return nil, fmt.Errorf("conversation.max_recognition_retries must be > 0")
	}
	if strings.TrimSpace(cfg.Conversation.FallbackText) == "" {
		return nil, fmt.Errorf("conversation.fallback_text must not be empty")
	}
	if cfg.OpenAI.TranscriptionModel == "" || cfg.OpenAI.SpeechModel == "" {
		return nil, fmt.Errorf("openai.transcription_model and openai.speech_model must not be empty")
	}

	if cfg.HTTP.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTP.Listen); err != nil {
			return nil, fmt.Errorf("http.listen must be host:port: %w", err)
		}
	}

	if cfg.Vocab.MaxPhrases <= 0 {
		return nil, fmt.Errorf("vocab.max_phrases must be > 0")
	}
	_, vocabWarnings, err := BuildKeywords(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, vocabWarnings...)

	return warnings, nil
}

// BuildKeywords merges enabled vocab sets into a sorted keyword list. A
// phrase in several sets keeps the highest boost.
func BuildKeywords(cfg Config) ([]Keyword, []Warning, error) {
	if len(cfg.Vocab.GlobalSets) == 0 {
		return nil, nil, nil
	}

	type candidate struct {
		boost float64
		from  string
	}

	warnings := make([]Warning, 0)
	selected := make(map[string]candidate)

	for _, name := range cfg.Vocab.GlobalSets {
		set, ok := cfg.Vocab.Sets[name]
		if !ok {
			return nil, nil, fmt.Errorf("vocab.global references unknown set %q", name)
		}
		if set.Boost < -10 || set.Boost > 10 {
			return nil, nil, fmt.Errorf("vocab set %q boost must be between -10 and 10", name)
		}
		for _, phrase := range set.Phrases {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			existing, exists := selected[phrase]
			if !exists {
				selected[phrase] = candidate{boost: set.Boost, from: name}
				continue
			}
			if set.Boost > existing.boost {
				warnings = append(warnings, Warning{Message: fmt.Sprintf("phrase %q present in %q and %q; using higher boost %.2f", phrase, existing.from, name, set.Boost)})
				selected[phrase] = candidate{boost: set.Boost, from: name}
			}
		}
	}

	if len(selected) > cfg.Vocab.MaxPhrases {
		return nil, nil, fmt.Errorf("vocabulary phrase count %d exceeds vocab.max_phrases=%d", len(selected), cfg.Vocab.MaxPhrases)
	}

	keywords := make([]Keyword, 0, len(selected))
	for phrase, c := range selected {
		keywords = append(keywords, Keyword{Phrase: phrase, Boost: c.boost})
	}
	sort.Slice(keywords, func(i, j int) bool { return keywords[i].Phrase < keywords[j].Phrase })

	return keywords, warnings, nil
}
