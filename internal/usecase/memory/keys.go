package memory

func messagesKey(sessionID string) string { return "conv:" + sessionID + ":messages" }
func stateKey(sessionID string) string    { return "conv:" + sessionID + ":state" }
func memoriesKey(sessionID string) string { return "conv:" + sessionID + ":memories" }

func sessionKeys(sessionID string) []string {
	return []string{messagesKey(sessionID), stateKey(sessionID), memoriesKey(sessionID)}
}
