// Package llmverify confirms top match candidates with a language model.
// It is an optional, policy-gated second opinion on the similarity
// scorer: given a listing name and candidate reference names, the model
// says which candidate (if any) is the same physical product.
package llmverify

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const systemPrompt = "You identify whether differently-named retail product listings refer to the same physical product. Answer with the exact candidate name, or None."

// Verifier decides whether any candidate name denotes the same product as
// the listing name.
type Verifier interface {
	// SameProduct returns the matching candidate name and true, or
	// ("", false) when none of the candidates is the same product.
	SameProduct(ctx context.Context, listingName string, candidates []string) (string, bool, error)
}

// Config holds model settings.
type Config struct {
	Model     string
	MaxTokens int64
}

type sdkVerifier struct {
	client sdk.Client
	cfg    Config
}

// New creates a Verifier backed by the Anthropic SDK.
func New(apiKey string, cfg Config) Verifier {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 64
	}
	return &sdkVerifier{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		cfg:    cfg,
	}
}

func (v *sdkVerifier) SameProduct(ctx context.Context, listingName string, candidates []string) (string, bool, error) {
	if len(candidates) == 0 {
		return "", false, nil
	}

	var b strings.Builder
	b.WriteString("Listing: '")
	b.WriteString(listingName)
	b.WriteString("'\n\nCandidates:\n")
	for _, c := range candidates {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	b.WriteString("\nIf one candidate is the same product as the listing, reply with its exact name. Otherwise reply None.")

	msg, err := v.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(v.cfg.Model),
		MaxTokens:   v.cfg.MaxTokens,
		Temperature: sdk.Float(0),
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return "", false, eris.Wrap(err, "llmverify: create message")
	}

	reply := ""
	for _, block := range msg.Content {
		if block.Type == "text" {
			reply += block.Text
		}
	}
	reply = strings.TrimSpace(reply)

	if reply == "" || strings.EqualFold(reply, "none") {
		return "", false, nil
	}
	for _, c := range candidates {
		if strings.EqualFold(reply, c) {
			return c, true, nil
		}
	}
	// Model replied with something outside the candidate list; treat as
	// no confirmation rather than guessing.
	return "", false, nil
}
