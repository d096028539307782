package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// App is the complete application configuration, loaded from YAML with
// environment expansion. Secrets (the API key) come from the environment
// only and never live in the file.
type App struct {
	LLM  LLMConfig  `yaml:"llm"`
	Chat ChatConfig `yaml:"chat"`
	HTTP HTTPConfig `yaml:"http"`
}

// LLMConfig configures the completion endpoint.
type LLMConfig struct {
	URL            string  `yaml:"url"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	AuditPath      string  `yaml:"audit_path"`
}

// ChatConfig configures the session store and the persona.
type ChatConfig struct {
	SystemInstruction string `yaml:"system_instruction"`
	TitleInstruction  string `yaml:"title_instruction"`
	Greeting          string `yaml:"greeting"`
	Store             string `yaml:"store"` // "memory" or "sqlite"
	SQLitePath        string `yaml:"sqlite_path"`
	SidebarLimit      int    `yaml:"sidebar_limit"`
	SeedDemo          bool   `yaml:"seed_demo"`
}

// HTTPConfig configures the serving surface.
type HTTPConfig struct {
	SessionSecret      string `yaml:"session_secret"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// Timeout returns the completion call timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads and expands the YAML configuration at path, applying
// defaults for everything left unset.
func Load(path string) (*App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	app := &App{}
	if err := yaml.Unmarshal(data, app); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	expandAll(app)
	applyDefaults(app)
	return app, nil
}

// Defaults returns the configuration used when no file is present.
func Defaults() *App {
	app := &App{}
	applyDefaults(app)
	return app
}

func applyDefaults(app *App) {
	if app.LLM.URL == "" {
		app.LLM.URL = "https://api.openai.com/v1/chat/completions"
	}
	if app.LLM.Model == "" {
		app.LLM.Model = "gpt-4o-mini"
	}
	if app.LLM.Temperature == 0 {
		app.LLM.Temperature = 0.7
	}
	if app.LLM.MaxTokens == 0 {
		app.LLM.MaxTokens = 1000
	}
	if app.LLM.TimeoutSeconds == 0 {
		app.LLM.TimeoutSeconds = 60
	}
	if app.Chat.SystemInstruction == "" {
		app.Chat.SystemInstruction = defaultSystemInstruction
	}
	if app.Chat.TitleInstruction == "" {
		app.Chat.TitleInstruction = defaultTitleInstruction
	}
	if app.Chat.Store == "" {
		app.Chat.Store = "memory"
	}
	if app.Chat.SQLitePath == "" {
		app.Chat.SQLitePath = "chats.db"
	}
	if app.Chat.SidebarLimit == 0 {
		app.Chat.SidebarLimit = 10
	}
	if app.HTTP.RateLimitPerMinute == 0 {
		app.HTTP.RateLimitPerMinute = 60
	}
}

func expandAll(app *App) {
	app.LLM.URL = expandEnv(app.LLM.URL)
	app.LLM.Model = expandEnv(app.LLM.Model)
	app.LLM.AuditPath = expandEnv(app.LLM.AuditPath)
	app.Chat.Store = expandEnv(app.Chat.Store)
	app.Chat.SQLitePath = expandEnv(app.Chat.SQLitePath)
	app.HTTP.SessionSecret = expandEnv(app.HTTP.SessionSecret)
}

// expandEnv expands ${VAR} and ${VAR:-default} references.
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(key string) string {
		parts := strings.SplitN(key, ":-", 2)
		value := os.Getenv(parts[0])
		if value == "" && len(parts) > 1 {
			return parts[1]
		}
		return value
	})
}

const defaultSystemInstruction = "You are 'Healthguru', an AI-powered wellness and general health information assistant. " +
	"Your primary role is to provide well-researched, general, and easy-to-understand information based on the user's queries. " +
	"Crucial Mandate: You are NOT a medical professional. ALWAYS include a prominent disclaimer in your response that the user " +
	"must consult a qualified doctor or healthcare provider for personalized medical advice, diagnosis, or treatment. " +
	"Your tone should be empathetic, supportive, and informative, focusing on widely accepted non-critical wellness practices, " +
	"first aid basics, and common ailment management (e.g., home remedies, rest recommendations). " +
	"Format your responses clearly using Markdown (bold, lists, etc.) to enhance readability."

const defaultTitleInstruction = "You are a title generator. Condense the user's message into a very concise, " +
	"three-word maximum title for a chat history list. Output only the short title text, with no quotes or extraneous punctuation."
