package agent

// NewGeminiProvider creates a provider for Google Gemini through its
// OpenAI-compatible endpoint. An empty baseURL uses GeminiBaseURL.
func NewGeminiProvider(apiKey, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = GeminiBaseURL
	}
	return newOpenAICompatible("gemini", apiKey, baseURL)
}
