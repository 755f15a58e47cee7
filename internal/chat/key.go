package chat

const conversationKeyPrefix = "chat_"

// ConversationKey derives the deterministic conversation identifier for an
// unordered pair of participants. The lexicographically smaller identifier
// comes first, so both parties compute the same key without a lookup.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return conversationKeyPrefix + a + "_" + b
}
