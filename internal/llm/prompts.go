package llm

import (
	"fmt"
	"strings"
)

// RefusalMarker is the token a model must emit when the supplied context does
// not contain the answer. The generation contract asks for a machine-checkable
// marker instead of an apology sentence, so refusal detection does not depend
// on prose matching.
const RefusalMarker = "INSUFFICIENT_CONTEXT"

// SystemPromptRAG frames context-grounded answering for the pipeline's
// generation stage.
const SystemPromptRAG = `You are a helpful AI assistant with access to a knowledge base.
Your task is to answer questions based on the provided context documents.

IMPORTANT RULES:
1. Always cite specific document numbers when referencing information
2. Base your answer ONLY on the provided documents
3. If the information is not in the documents, explicitly state that
4. Use the exact information from the documents, don't speculate`

// StrictContextInstruction is the router's generation contract: answer from
// the supplied context only, and emit the refusal marker when it is missing.
const StrictContextInstruction = `You are an assistant answering strictly from the provided context.
STRICT RULES:
1. Use ONLY the Context below to answer the question.
2. If the answer is NOT in the Context, respond with exactly: ` + RefusalMarker + `
3. Do NOT use outside knowledge. Do NOT answer general questions.
4. Keep the answer professional and grounded in the provided documents.`

// FallbackMessage is the fixed answer returned when quality gating rejects
// every candidate.
const FallbackMessage = `I apologize, but I was unable to generate a satisfactory answer to your question.

Possible reasons:
1. The documents don't contain relevant information
2. The question is too broad or ambiguous
3. The answer quality didn't meet our standards

Please try rephrasing your question more specifically or asking about different aspects.`

const ragPromptTemplate = `Based on the following context documents, please answer the question:

CONTEXT DOCUMENTS:
%s

QUESTION: %s

Please provide a comprehensive answer that:
1. Directly addresses the question
2. References specific documents (e.g., "According to Document 1...")
3. Acknowledges any limitations in the provided context`

const judgePromptTemplate = `Evaluate the following answer based on these criteria.

QUESTION: %s

CONTEXT: %s

ANSWER TO EVALUATE: %s

Rate the answer on a scale of 0-10 for each criterion:
1. Correctness: Is the answer factually accurate based on the context?
2. Relevance: Does it directly address the question?
3. Completeness: Does it cover all aspects of the question?
4. Clarity: Is the answer well-written and understandable?
5. Citations: Does it properly reference the source documents?

IMPORTANT: Return ONLY a valid JSON object (no markdown, no extra text):
{
    "score": <number 0-10>,
    "reasons": "<explanation of the score>",
    "criteria": {
        "correctness": <number 0-10>,
        "relevance": <number 0-10>,
        "completeness": <number 0-10>,
        "clarity": <number 0-10>,
        "citations": <number 0-10>
    }
}

Return ONLY JSON. No additional text.`

// RAGPrompt renders the generation prompt for the pipeline, prepending recent
// conversation history when present.
func RAGPrompt(contextBlock, question, history string) string {
	prompt := fmt.Sprintf(ragPromptTemplate, contextBlock, question)
	if history != "" {
		prompt = "Previous conversation:\n" + history + "\n\n" + prompt
	}
	return SystemPromptRAG + "\n\n" + prompt
}

// StrictContextPrompt renders the router's generation prompt with the context
// budget applied.
func StrictContextPrompt(contextText, question string, contextBudget int) string {
	if len(contextText) > contextBudget {
		contextText = contextText[:contextBudget]
	}
	return fmt.Sprintf("%s\n\nContext:\n%s\n\nQuestion: %s\n\nAnswer:",
		StrictContextInstruction, contextText, question)
}

// JudgePrompt renders the rubric prompt for the quality judge.
func JudgePrompt(question, contextText, answer string) string {
	return fmt.Sprintf(judgePromptTemplate, question, contextText, answer)
}

// IsRefusal reports whether an answer is a deliberate refusal under the
// strict-context contract.
func IsRefusal(answer string) bool {
	return strings.Contains(answer, RefusalMarker)
}
