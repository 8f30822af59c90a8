// Command fivex drives an automated author/reviewer loop against a
// Markdown implementation plan.
package main

func main() {
	Execute()
}
