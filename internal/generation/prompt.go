// ABOUTME: Builds the chat-completion message list for a suggestion request
// ABOUTME: System instruction, transcript and formatting instruction, overridable from config

package generation

import (
	"strings"

	"github.com/openai/openai-go/v3"

	"github.com/2389/suggest-gateway/internal/store"
)

// ContextPlaceholder is replaced by the conversation context in PromptConfig.WithContext.
const ContextPlaceholder = "{{context}}"

// PromptConfig holds the instructions wrapped around the transcript.
type PromptConfig struct {
	// System is used when the conversation has no context.
	System string
	// WithContext is used when the conversation has a context; it must
	// contain ContextPlaceholder.
	WithContext string
	// Format is appended after the transcript and constrains the output.
	Format string
}

// DefaultPrompts returns the French after-sales support instructions.
func DefaultPrompts() PromptConfig {
	return PromptConfig{
		System: `Tu es un assistant SAV (Service Après-Vente) professionnel et empathique.
Ta mission est d'aider l'agent du SAV en suggérant des réponses appropriées, professionnelles et utiles.
Les réponses doivent être courtes, claires et directement utilisables par l'agent.`,
		WithContext: `Tu es un assistant SAV (Service Après-Vente) professionnel et empathique.
Contexte de l'entreprise et/ou de l'assistance : ` + ContextPlaceholder + `

Ta mission est d'aider l'agent du SAV en suggérant des réponses appropriées, professionnelles et utiles basées sur la conversation.
Les réponses doivent être courtes, claires et directement utilisables par l'agent.`,
		Format: `Génère maintenant une suggestion de réponse que l'agent pourrait envoyer au client.
IMPORTANT :
- Ne fournis QUE le texte de la réponse suggérée, sans guillemets, sans explication, sans préambule
- Écris la réponse comme si tu étais directement l'agent qui parle au client
- Utilise une ponctuation correcte avec des espaces après les virgules, points, etc.
- Tu peux utiliser des retours à la ligne pour structurer la réponse si nécessaire
- Pas de placeholders, pas de formatage markdown (pas de **, pas de #, etc.), vraiment juste le texte brut avec une mise en forme simple si besoin
- Écris en français correct avec une grammaire et une orthographe parfaites`,
	}
}

// withDefaults fills empty fields from DefaultPrompts.
func (p PromptConfig) withDefaults() PromptConfig {
	def := DefaultPrompts()
	if p.System == "" {
		p.System = def.System
	}
	if p.WithContext == "" {
		p.WithContext = def.WithContext
	}
	if p.Format == "" {
		p.Format = def.Format
	}
	return p
}

// BuildMessages turns a conversation into a chat-completion transcript:
// the system instruction, every message with customer mapped to user and
// agent mapped to assistant, then the formatting instruction.
func BuildMessages(conv *store.Conversation, prompts PromptConfig) []openai.ChatCompletionMessageParamUnion {
	prompts = prompts.withDefaults()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(conv.Messages)+2)
	if conv.Context != "" {
		messages = append(messages, openai.SystemMessage(strings.ReplaceAll(prompts.WithContext, ContextPlaceholder, conv.Context)))
	} else {
		messages = append(messages, openai.SystemMessage(prompts.System))
	}

	for _, msg := range conv.Messages {
		switch msg.Role {
		case store.RoleAgent:
			messages = append(messages, openai.AssistantMessage(msg.Text))
		default:
			messages = append(messages, openai.UserMessage(msg.Text))
		}
	}

	messages = append(messages, openai.SystemMessage(prompts.Format))
	return messages
}
