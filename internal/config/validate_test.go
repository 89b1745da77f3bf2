package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var fullSecrets = Secrets{OpenAIAPIKey: "sk", DeepgramAPIKey: "dg"}

func TestBuildKeywordsSortedAndHighestBoostWins(t *testing.T) {
	cfg := Default()
	cfg.Vocab.GlobalSets = []string{"core", "team"}
	cfg.Vocab.Sets["core"] = VocabSet{Name: "core", Boost: 1, Phrases: []string{"beta", "alpha", " "}}
	cfg.Vocab.Sets["team"] = VocabSet{Name: "team", Boost: 2, Phrases: []string{"alpha", "gamma"}}

	keywords, warnings, err := BuildKeywords(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, []Keyword{
		{Phrase: "alpha", Boost: 2},
		{Phrase: "beta", Boost: 1},
		{Phrase: "gamma", Boost: 2},
	}, keywords)
}

func TestBuildKeywordsLimits(t *testing.T) {
	cfg := Default()
	cfg.Vocab.GlobalSets = []string{"missing"}
	_, _, err := BuildKeywords(cfg)
	require.ErrorContains(t, err, "unknown set")

	cfg.Vocab.GlobalSets = []string{"loud"}
	cfg.Vocab.Sets["loud"] = VocabSet{Name: "loud", Boost: 50, Phrases: []string{"x"}}
	_, _, err = BuildKeywords(cfg)
	require.ErrorContains(t, err, "between -10 and 10")

	cfg.Vocab.Sets["loud"] = VocabSet{Name: "loud", Boost: 1, Phrases: []string{"x", "y"}}
	cfg.Vocab.MaxPhrases = 1
	_, _, err = BuildKeywords(cfg)
	require.ErrorContains(t, err, "exceeds vocab.max_phrases")
}

func TestValidateDefaults(t *testing.T) {
	warnings, err := Validate(Default(), fullSecrets)
	require.NoError(t, err)
	require.Empty(t, warnings)

	warnings, err = Validate(Default(), Secrets{})
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	require.Contains(t, warnings[1].Message, "continuous mode unavailable")
}

func TestValidateRejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "responder backend", mutate: func(c *Config) { c.Responder.Backend = "smoke" }, wantErr: "responder.backend"},
		{name: "grpc without target", mutate: func(c *Config) { c.Responder.Backend = ResponderGRPC }, wantErr: "grpc_target"},
		{name: "grpc method", mutate: func(c *Config) {
			c.Responder.Backend = ResponderGRPC
			c.Responder.GRPCTarget = "localhost:1"
			c.Responder.GRPCMethod = "Complete"
		}, wantErr: "grpc_method"},
		{name: "timeout", mutate: func(c *Config) { c.Responder.TimeoutMS = 0 }, wantErr: "timeout_ms"},
		{name: "recognition backend", mutate: func(c *Config) { c.Recognition.Backend = "ears" }, wantErr: "recognition.backend"},
		{name: "sample rate", mutate: func(c *Config) { c.Audio.SampleRate = 100 }, wantErr: "sample_rate"},
		{name: "grace", mutate: func(c *Config) { c.Conversation.RearmGraceMS = -1 }, wantErr: "rearm_grace_ms"},
		{name: "retries", mutate: func(c *Config) { c.Conversation.MaxRecognitionRetries = 0 }, wantErr: "max_recognition_retries"},
		{name: "fallback", mutate: func(c *Config) { c.Conversation.FallbackText = " " }, wantErr: "fallback_text"},
		{name: "http listen", mutate: func(c *Config) { c.HTTP.Listen = "8080" }, wantErr: "http.listen"},
		{name: "deepgram timings", mutate: func(c *Config) { c.Deepgram.KeepAliveMS = -5 }, wantErr: "deepgram timings"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			_, err := Validate(cfg, fullSecrets)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestWarningString(t *testing.T) {
	require.Equal(t, "line 3: odd", Warning{Line: 3, Message: "odd"}.String())
	require.Equal(t, "odd", Warning{Message: "odd"}.String())
}
