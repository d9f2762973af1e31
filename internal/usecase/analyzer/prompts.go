package analyzer

const classifyIntentPrompt = `Classify the intent of this user message:

"%s"

Choose from these categories:
- definition: asking what something is or means
- improvement: asking how to make something better
- expansion: asking for more details or elaboration
- explanation: asking how something works or why
- summarization: asking for a summary or overview
- clarification: asking for clarification
- general: general conversation or other

Return only the category name:`

const extractEntitiesPrompt = `Extract key entities from this text. Focus on:
- Companies/Organizations
- Technologies
- Products/Services
- People
- Locations
- Concepts

Text: "%s"

Return entities as JSON with entity_type as key and entity_name as value.
Example: {"organization": "TCS", "technology": "AI", "concept": "cybersecurity"}

JSON:`

const extractTopicPrompt = `Extract the main topic or subject from this text in 2-4 words:

"%s"

Topic:`

const summarizePrompt = `Summarize this conversation concisely, focusing on:
- Main topics discussed
- Key information shared
- Important decisions or conclusions
- Unresolved questions

Conversation:
%s
Summary:`
