package genstream

import (
	"fmt"
	"strings"

	"github.com/RemilRLs/KnowHub/internal/llm"
	"github.com/RemilRLs/KnowHub/internal/vectorstore"
)

const ragSystemPrompt = `You are an AI assistant that answers questions strictly based on the retrieved context provided.
Do not use outside knowledge or make assumptions beyond this context.
If the context does not contain enough information to answer, clearly say so.
Always respond in a clear, concise, and professional manner.`

const ragUserTemplate = `Context:
%s

Question:
%s

Instructions:
- Use only the information from the context above.
- If the answer is not explicitly present, respond with "The provided context does not contain enough information to answer."
- After each sentence, cite the chunk numbers it is based on in square brackets, e.g. [1] or [1, 3]. Only cite chunks from the context above.
- Write your answer in clear, concise, and professional language.
- Do not include references to the instructions or the word 'context' in your answer.

Answer:`

// emptyKnowledgeAnswer is emitted when retrieval returns nothing.
const emptyKnowledgeAnswer = "Je n'ai pas trouvé d'informations pertinentes pour répondre à votre question."

// BuildContextBlock renders retrieved chunks as a numbered context block.
// Chunk numbers are 1-based so the model's citations match the indices in
// the chunk map.
func BuildContextBlock(rows []vectorstore.Row) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = fmt.Sprintf("[Chunk number %d - %s (page %d) - distance: %.3f]\n%s\n",
			i+1, r.Source, r.Page, r.Distance, r.Text)
	}
	return strings.Join(parts, "---\n")
}

// BuildMessages assembles the RAG chat turns for one query.
func BuildMessages(contextBlock, query string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: ragSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(ragUserTemplate, contextBlock, query)},
	}
}

// ChunkMap maps each distinct chunk text to the 1-based indices at which
// it appeared in the context block.
func ChunkMap(rows []vectorstore.Row) map[string][]int {
	m := make(map[string][]int, len(rows))
	for i, r := range rows {
		m[r.Text] = append(m[r.Text], i+1)
	}
	return m
}

// UniqueSources returns the distinct sources in retrieval order.
func UniqueSources(rows []vectorstore.Row) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, r := range rows {
		if !seen[r.Source] {
			seen[r.Source] = true
			out = append(out, r.Source)
		}
	}
	return out
}
