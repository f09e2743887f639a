package orchestrator

import (
	"fmt"

	"github.com/corvuslabs/corvus/internal/domain"
)

// PromptBuilder supplies the prompts for each model-facing phase. Prompt
// wording is a collaborator concern; the default implementation carries
// minimal schema-constrained placeholders.
type PromptBuilder interface {
	Coherence(framework []byte, experiment []byte, corpusSummary string) (system, user string)
	Analysis(framework []byte, doc domain.Document) (system, user string)
	Synthesis(consolidated domain.ConsolidatedAnalysis) (system, user string)
	EvidenceIntegration(narrative string, consolidated domain.ConsolidatedAnalysis) (system, user string)
}

// defaultPrompts is the built-in PromptBuilder.
type defaultPrompts struct{}

// NewDefaultPrompts returns the built-in prompt set.
func NewDefaultPrompts() PromptBuilder { return defaultPrompts{} }

func (defaultPrompts) Coherence(framework, experiment []byte, corpusSummary string) (string, string) {
	system := `You check whether an analytical framework, an experiment description, and a corpus fit together. ` +
		`Respond with only a JSON object: {"coherent": bool, "issues": [string], "confidence": number}.`
	user := fmt.Sprintf("Framework:\n%s\n\nExperiment:\n%s\n\nCorpus:\n%s",
		framework, experiment, corpusSummary)
	return system, user
}

func (defaultPrompts) Analysis(framework []byte, doc domain.Document) (string, string) {
	system := `You score a document against the framework's dimensions. ` +
		`Respond with only a JSON object: {"dimension_scores": {string: number}, "evidence": [string], "confidence": number}.`
	user := fmt.Sprintf("Framework:\n%s\n\nDocument %q:\n%s", framework, doc.Name, doc.Content)
	return system, user
}

func (defaultPrompts) Synthesis(consolidated domain.ConsolidatedAnalysis) (string, string) {
	system := `You synthesize per-document analyses into one consolidated narrative. Respond with prose.`
	user := fmt.Sprintf("Documents analyzed: %d succeeded, %d failed.\nDimension means: %v\n",
		consolidated.Succeeded, consolidated.Failed, consolidated.DimensionMeans)
	return system, user
}

func (defaultPrompts) EvidenceIntegration(narrative string, consolidated domain.ConsolidatedAnalysis) (string, string) {
	system := `You weave the strongest supporting evidence into an existing narrative. Respond with prose.`
	var evidence []string
	for _, r := range consolidated.Results {
		evidence = append(evidence, r.Evidence...)
	}
	user := fmt.Sprintf("Narrative:\n%s\n\nEvidence:\n%v", narrative, evidence)
	return system, user
}
