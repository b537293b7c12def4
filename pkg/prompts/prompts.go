// Package prompts holds the LLM prompt templates and the response
// grammar for the mining and synchronization pipeline. Templates live in
// templates.yaml; Go code only fills placeholders and parses responses,
// so prompt wording can evolve without touching parsing logic.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

// Template is one prompt pair loaded from templates.yaml.
type Template struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

var templates map[string]Template

func init() {
	if err := yaml.Unmarshal(templatesYAML, &templates); err != nil {
		panic(fmt.Sprintf("prompts: invalid templates.yaml: %v", err))
	}
	required := []string{
		"entity_types", "entity_extraction", "knowledge_extraction",
		"best_match", "tag_proposal", "template_choice",
		"description_refresh", "property_value",
	}
	for _, name := range required {
		if _, ok := templates[name]; !ok {
			panic(fmt.Sprintf("prompts: templates.yaml missing template %q", name))
		}
	}
}

// render fills {placeholder} occurrences in the named template. The
// delimiter placeholders are always available.
func render(name string, vars map[string]string) (system, user string) {
	tpl := templates[name]
	pairs := []string{
		"{tuple_delimiter}", TupleDelimiter,
		"{record_delimiter}", RecordDelimiter,
	}
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	return strings.TrimSpace(tpl.System), strings.TrimSpace(r.Replace(tpl.User))
}

// EntityTypes builds the open-vocabulary entity type enumeration prompt.
func EntityTypes(context string) (system, user string) {
	return render("entity_types", map[string]string{
		"context": context,
	})
}

// EntityExtraction builds the per-segment entity enumeration prompt.
// knownEntities is rendered as "none" when empty so the model is not
// tempted to echo an empty list literally.
func EntityExtraction(context, segment string, entityTypes, knownEntities []string) (system, user string) {
	known := "none"
	if len(knownEntities) > 0 {
		known = strings.Join(knownEntities, ", ")
	}
	return render("entity_extraction", map[string]string{
		"context":        context,
		"segment":        segment,
		"entity_types":   strings.Join(entityTypes, ", "),
		"known_entities": known,
	})
}

// KnowledgeExtraction builds the self-contained fact rewriting prompt.
func KnowledgeExtraction(conceptName, conceptDescription, sourceText string) (system, user string) {
	if conceptDescription == "" {
		conceptDescription = "nothing yet"
	}
	return render("knowledge_extraction", map[string]string{
		"concept_name":        conceptName,
		"concept_description": conceptDescription,
		"source_text":         sourceText,
	})
}

// MatchCandidate is one numbered concept offered for arbitration.
type MatchCandidate struct {
	Name        string
	Description string
}

// BestMatch builds the dedup arbitration prompt over numbered candidates.
func BestMatch(candidateName, candidateDescription string, candidates []MatchCandidate) (system, user string) {
	var sb strings.Builder
	for i, c := range candidates {
		desc := c.Description
		if desc == "" {
			desc = "no description"
		}
		fmt.Fprintf(&sb, "%d. %s — %s\n", i+1, c.Name, desc)
	}
	return render("best_match", map[string]string{
		"candidate_name":        candidateName,
		"candidate_description": candidateDescription,
		"candidates":            strings.TrimSpace(sb.String()),
	})
}

// TagProposal builds the taxonomy classification prompt.
func TagProposal(conceptName, knowledge string, existingTags []string) (system, user string) {
	existing := "none"
	if len(existingTags) > 0 {
		existing = strings.Join(existingTags, "; ")
	}
	return render("tag_proposal", map[string]string{
		"concept_name":  conceptName,
		"knowledge":     knowledge,
		"existing_tags": existing,
	})
}

// TemplateOption is one numbered object template offered for selection.
type TemplateOption struct {
	Name        string
	Description string
}

// TemplateChoice builds the template selection prompt.
func TemplateChoice(tagName, tagDescription, parentName string, options []TemplateOption) (system, user string) {
	var sb strings.Builder
	for i, o := range options {
		desc := o.Description
		if desc == "" {
			desc = "no description"
		}
		fmt.Fprintf(&sb, "%d. %s — %s\n", i+1, o.Name, desc)
	}
	return render("template_choice", map[string]string{
		"tag_name":        tagName,
		"tag_description": tagDescription,
		"parent_name":     parentName,
		"templates":       strings.TrimSpace(sb.String()),
	})
}

// DescriptionRefresh builds the stale-definition check prompt.
func DescriptionRefresh(conceptName, currentDescription, updatedKnowledge string) (system, user string) {
	if currentDescription == "" {
		currentDescription = "none yet"
	}
	return render("description_refresh", map[string]string{
		"concept_name":        conceptName,
		"current_description": currentDescription,
		"updated_knowledge":   updatedKnowledge,
	})
}

// PropertyValue builds the three-outcome property refresh prompt.
func PropertyValue(propertyName, propertyType, currentValue, evidence string) (system, user string) {
	if currentValue == "" {
		currentValue = "not set"
	}
	return render("property_value", map[string]string{
		"property_name": propertyName,
		"property_type": propertyType,
		"current_value": currentValue,
		"evidence":      evidence,
	})
}
