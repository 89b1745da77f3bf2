package config

// Default returns the runtime configuration used when no file is present.
func Default() Config {
	return Config{
		OpenAI: OpenAIConfig{
			ChatModel:          "gpt-4o-mini",
			TranscriptionModel: "whisper-1",
			SpeechModel:        "tts-1",
			Voice:              "alloy",
		},
		Deepgram: DeepgramConfig{
			Endpoint:       "wss://api.deepgram.com/v1/listen",
			Model:          "nova-2",
			Language:       "en-US",
			EndpointingMS:  300,
			UtteranceEndMS: 1000,
			KeepAliveMS:    5000,
			SentenceCase:   true,
		},
		Responder: ResponderConfig{
			Backend:    ResponderOpenAI,
			GRPCMethod: "/parley.v1.Responder/Complete",
			TimeoutMS:  30000,
		},
		Recognition: RecognitionConfig{Backend: RecognitionDeepgram},
		Audio: AudioConfig{
			Input:      "default",
			Fallback:   "default",
			SampleRate: 16000,
		},
		Conversation: ConversationConfig{
			SystemPrompt:          "You are a helpful voice assistant. Keep answers short and conversational.",
			FallbackText:          "Sorry, I encountered an error. Please try again.",
			RearmGraceMS:          600,
			MaxRecognitionRetries: 5,
		},
		Vocab: VocabConfig{
			Sets:       map[string]VocabSet{},
			MaxPhrases: 100,
		},
	}
}
