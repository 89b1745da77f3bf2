package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeJSONCRemovesCommentsAndTrailingCommas(t *testing.T) {
	input := `
{
  // line comment
  "items": [
    "one", /* block comment */
    "two", // trailing
  ],
  "nested": {
    "enabled": true,
  },
}
`

	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.NotContains(t, normalized, "//")
	require.NotContains(t, normalized, "/*")
	require.Equal(t, strings.Count(input, "\n"), strings.Count(normalized, "\n"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(normalized), &decoded))
	require.Equal(t, []any{"one", "two"}, decoded["items"])
}

func TestNormalizeJSONCRetainsCommentLikeTextInsideStrings(t *testing.T) {
	input := `{"value":"contains // and /* comment-like */ text, \"quoted\" }",}`
	normalized, err := normalizeJSONC(input)
	require.NoError(t, err)
	require.Contains(t, normalized, `// and /* comment-like */ text, \"quoted\" }`)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal([]byte(normalized), &decoded))
}

func TestNormalizeJSONCUnterminatedBlockCommentFails(t *testing.T) {
	_, err := normalizeJSONC("{ /* unterminated ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated block comment")
}

func TestEnsureSingleJSONValueRejectsExtraPayload(t *testing.T) {
	decoder := json.NewDecoder(strings.NewReader(`{"one":1}{"two":2}`))
	var payload map[string]any
	require.NoError(t, decoder.Decode(&payload))

	err := ensureSingleJSONValue(decoder)
	require.Error(t, err)
	require.Contains(t, err.Error(), "multiple JSON values")
}

func TestOffsetToLineCol(t *testing.T) {
	content := "line1\nline2\nline3"
	line, col := offsetToLineCol(content, 1)
	require.Equal(t, 1, line)
	require.Equal(t, 1, col)

	line, col = offsetToLineCol(content, 8)
	require.Equal(t, 2, line)
	require.Equal(t, 2, col)

	line, col = offsetToLineCol(content, 999)
	require.Equal(t, 3, line)
	require.Equal(t, 5, col)
}

func TestStringListUnmarshal(t *testing.T) {
	var list stringList
	require.NoError(t, list.UnmarshalJSON([]byte(`["a","b"]`)))
	require.Equal(t, []string{"a", "b"}, []string(list))

	require.NoError(t, list.UnmarshalJSON([]byte(`"a, b, , c"`)))
	require.Equal(t, []string{"a", "b", "c"}, []string(list))

	require.Error(t, list.UnmarshalJSON([]byte(`123`)))
}

func TestParseAppliesSections(t *testing.T) {
	cfg, err := Parse(`{
  "openai": {"chat_model": "gpt-4o", "voice": "nova"},
  "deepgram": {"model": "nova-3", "utterance_end_ms": 1500, "sentence_case": false},
  "responder": {"backend": "GRPC", "grpc_target": "localhost:7000"},
  "recognition": {"backend": "none"},
  "audio": {"input": "usb mic", "sample_rate": 24000},
  "conversation": {
    "system_prompt": "Answer in one sentence.",
    "rearm_grace_ms": 900,
    "start_continuous": true,
  },
  "http": {"listen": "127.0.0.1:8787"},
  "vocab": {"global": "names", "sets": {"names": {"boost": 3, "phrases": ["Parley"]}}},
  "debug": {"audio_dump": true},
}`, Default())
	require.NoError(t, err)

	require.Equal(t, "gpt-4o", cfg.OpenAI.ChatModel)
	require.Equal(t, "nova", cfg.OpenAI.Voice)
	require.Equal(t, "tts-1", cfg.OpenAI.SpeechModel)
	require.Equal(t, "nova-3", cfg.Deepgram.Model)
	require.Equal(t, 1500, cfg.Deepgram.UtteranceEndMS)
	require.False(t, cfg.Deepgram.SentenceCase)
	require.Equal(t, ResponderGRPC, cfg.Responder.Backend)
	require.Equal(t, "localhost:7000", cfg.Responder.GRPCTarget)
	require.Equal(t, RecognitionNone, cfg.Recognition.Backend)
	require.Equal(t, "usb mic", cfg.Audio.Input)
	require.Equal(t, 24000, cfg.Audio.SampleRate)
	require.Equal(t, "Answer in one sentence.", cfg.Conversation.SystemPrompt)
	require.Equal(t, 900, cfg.Conversation.RearmGraceMS)
	require.True(t, cfg.Conversation.StartContinuous)
	require.Equal(t, "127.0.0.1:8787", cfg.HTTP.Listen)
	require.Equal(t, []string{"names"}, cfg.Vocab.GlobalSets)
	require.Equal(t, 3.0, cfg.Vocab.Sets["names"].Boost)
	require.True(t, cfg.Debug.AudioDump)
}

func TestParseDoesNotMutateBase(t *testing.T) {
	base := Default()
	_, err := Parse(`{"vocab": {"sets": {"extra": {"phrases": ["x"]}}}}`, base)
	require.NoError(t, err)
	require.Empty(t, base.Vocab.Sets)
}

func TestParseRejectsUnknownKeysWithPosition(t *testing.T) {
	_, err := Parse(`{"openai": {"model": "x"}}`, Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")

	_, err = Parse("{\n  \"audio\": {\"sample_rate\": \"fast\"}\n}", Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2")
}

func TestParseEmptyContentKeepsBase(t *testing.T) {
	cfg, err := Parse("  \n", Default())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}
