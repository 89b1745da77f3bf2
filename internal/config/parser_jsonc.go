package config

import (
	"encoding/json"
	"errors"
	"strings"
)

type fileConfig struct {
	OpenAI       *fileOpenAI       `json:"openai"`
	Deepgram     *fileDeepgram     `json:"deepgram"`
	Responder    *fileResponder    `json:"responder"`
	Recognition  *fileRecognition  `json:"recognition"`
	Audio        *fileAudio        `json:"audio"`
	Conversation *fileConversation `json:"conversation"`
	HTTP         *fileHTTP         `json:"http"`
	Vocab        *fileVocab        `json:"vocab"`
	Debug        *fileDebug        `json:"debug"`
}

type fileOpenAI struct {
	ChatModel          *string `json:"chat_model"`
	TranscriptionModel *string `json:"transcription_model"`
	SpeechModel        *string `json:"speech_model"`
	Voice              *string `json:"voice"`
	Language           *string `json:"language"`
}

type fileDeepgram struct {
	Endpoint       *string `json:"endpoint"`
	Model          *string `json:"model"`
	Language       *string `json:"language"`
	EndpointingMS  *int    `json:"endpointing_ms"`
	UtteranceEndMS *int    `json:"utterance_end_ms"`
	KeepAliveMS    *int    `json:"keepalive_ms"`
	SentenceCase   *bool   `json:"sentence_case"`
}

type fileResponder struct {
	Backend           *string `json:"backend"`
	GRPCTarget        *string `json:"grpc_target"`
	GRPCMethod        *string `json:"grpc_method"`
	GRPCHealthService *string `json:"grpc_health_service"`
	TimeoutMS         *int    `json:"timeout_ms"`
}

type fileRecognition struct {
	Backend *string `json:"backend"`
}

type fileAudio struct {
	Input      *string `json:"input"`
	Fallback   *string `json:"fallback"`
	SampleRate *int    `json:"sample_rate"`
}

type fileConversation struct {
	SystemPrompt          *string `json:"system_prompt"`
	FallbackText          *string `json:"fallback_text"`
	RearmGraceMS          *int    `json:"rearm_grace_ms"`
	MaxRecognitionRetries *int    `json:"max_recognition_retries"`
	StartContinuous       *bool   `json:"start_continuous"`
}

type fileHTTP struct {
	Listen *string `json:"listen"`
}

type fileVocab struct {
	Global     *stringList             `json:"global"`
	MaxPhrases *int                    `json:"max_phrases"`
	Sets       map[string]fileVocabSet `json:"sets"`
}

type fileVocabSet struct {
	Boost   *float64 `json:"boost"`
	Phrases []string `json:"phrases"`
}

type fileDebug struct {
	AudioDump *bool `json:"audio_dump"`
}

// stringList accepts either a JSON array or a comma-delimited string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return errors.New("expected string array or comma-delimited string")
	}
	out := make([]string, 0)
	for part := range strings.SplitSeq(single, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func (f fileConfig) applyTo(cfg *Config) error {
	if o := f.OpenAI; o != nil {
		setString(&cfg.OpenAI.ChatModel, o.ChatModel)
		setString(&cfg.OpenAI.TranscriptionModel, o.TranscriptionModel)
		setString(&cfg.OpenAI.SpeechModel, o.SpeechModel)
		setString(&cfg.OpenAI.Voice, o.Voice)
		setString(&cfg.OpenAI.Language, o.Language)
	}
	if d := f.Deepgram; d != nil {
		setString(&cfg.Deepgram.Endpoint, d.Endpoint)
		setString(&cfg.Deepgram.Model, d.Model)
		setString(&cfg.Deepgram.Language, d.Language)
		setInt(&cfg.Deepgram.EndpointingMS, d.EndpointingMS)
		setInt(&cfg.Deepgram.UtteranceEndMS, d.UtteranceEndMS)
		setInt(&cfg.Deepgram.KeepAliveMS, d.KeepAliveMS)
		setBool(&cfg.Deepgram.SentenceCase, d.SentenceCase)
	}
	if r := f.Responder; r != nil {
		setString(&cfg.Responder.Backend, r.Backend)
		setString(&cfg.Responder.GRPCTarget, r.GRPCTarget)
		setString(&cfg.Responder.GRPCMethod, r.GRPCMethod)
		setString(&cfg.Responder.GRPCHealthService, r.GRPCHealthService)
		setInt(&cfg.Responder.TimeoutMS, r.TimeoutMS)
		cfg.Responder.Backend = strings.ToLower(cfg.Responder.Backend)
	}
	if r := f.Recognition; r != nil {
		setString(&cfg.Recognition.Backend, r.Backend)
		cfg.Recognition.Backend = strings.ToLower(cfg.Recognition.Backend)
	}
	if a := f.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setInt(&cfg.Audio.SampleRate, a.SampleRate)
	}
	if c := f.Conversation; c != nil {
		setString(&cfg.Conversation.SystemPrompt, c.SystemPrompt)
		setString(&cfg.Conversation.FallbackText, c.FallbackText)
		setInt(&cfg.Conversation.RearmGraceMS, c.RearmGraceMS)
		setInt(&cfg.Conversation.MaxRecognitionRetries, c.MaxRecognitionRetries)
		setBool(&cfg.Conversation.StartContinuous, c.StartContinuous)
	}
	if h := f.HTTP; h != nil {
		setString(&cfg.HTTP.Listen, h.Listen)
	}
	if v := f.Vocab; v != nil {
		if v.Global != nil {
			cfg.Vocab.GlobalSets = append([]string(nil), (*v.Global)...)
		}
		setInt(&cfg.Vocab.MaxPhrases, v.MaxPhrases)
		for name, set := range v.Sets {
			name = strings.TrimSpace(name)
			if name == "" {
				return errors.New("vocab.sets contains an empty set name")
			}
			entry := VocabSet{Name: name, Phrases: append([]string(nil), set.Phrases...)}
			if set.Boost != nil {
				entry.Boost = *set.Boost
			}
			cfg.Vocab.Sets[name] = entry
		}
	}
	if d := f.Debug; d != nil {
		setBool(&cfg.Debug.AudioDump, d.AudioDump)
	}
	return nil
}

// normalizeJSONC blanks out comments and drops trailing commas in one pass,
// keeping every newline so decode errors still point at the right line.
func normalizeJSONC(content string) (string, error) {
	out := make([]byte, 0, len(content))
	pendingComma := -1

	for i := 0; i < len(content); i++ {
		ch := content[i]

		switch {
		case ch == '"':
			pendingComma = -1
			end := scanString(content, i)
			out = append(out, content[i:end]...)
			i = end - 1
		case ch == '/' && i+1 < len(content) && content[i+1] == '/':
			for i < len(content) && content[i] != '\n' && content[i] != '\r' {
				out = append(out, ' ')
				i++
			}
			i--
		case ch == '/' && i+1 < len(content) && content[i+1] == '*':
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				return "", errors.New("unterminated block comment in JSONC")
			}
			for _, c := range []byte(content[i : i+2+end+2]) {
				out = append(out, blank(c))
			}
			i += 2 + end + 1
		case ch == ',':
			pendingComma = len(out)
			out = append(out, ch)
		case ch == '}' || ch == ']':
			if pendingComma >= 0 {
				out[pendingComma] = ' '
			}
			pendingComma = -1
			out = append(out, ch)
		case isJSONWhitespace(ch):
			out = append(out, ch)
		default:
			pendingComma = -1
			out = append(out, ch)
		}
	}
	return string(out), nil
}

// scanString returns the index just past the string literal starting at i.
func scanString(content string, i int) int {
	for j := i + 1; j < len(content); j++ {
		switch content[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(content)
}

func blank(c byte) byte {
	if c == '\n' || c == '\r' || c == '\t' {
		return c
	}
	return ' '
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}
