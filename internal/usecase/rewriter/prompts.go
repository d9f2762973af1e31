package rewriter

const rewritePrompt = `Rewrite the user's latest question so it can be understood without the conversation.
Replace pronouns and vague references with the things they refer to. Keep the meaning and the language of the question.

Conversation:
%s
Current topic: %s
Known entities: %s

Latest question: "%s"

Respond with JSON only:
{"rewritten_query": "...", "resolved_entities": {"reference": "referent"}, "confidence": 0.0, "reasoning": "..."}`
