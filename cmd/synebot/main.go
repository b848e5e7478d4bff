// Command synebot runs the multi-tenant conversational agent: the
// Telegram and CLI channel adapters, the scheduler, and the ability and
// tool registries, all driven by a single Conversation Engine.
package main

func main() {
	Execute()
}
