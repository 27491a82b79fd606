// internal/game/images.go
package game

// PromptImage is one entry of the visual prompt rotation. Each image gets
// a full turn cycle before the next appears.
type PromptImage struct {
	URL         string `json:"image_url"`
	Description string `json:"image_description"`
}

// DefaultPromptImages is the built-in catalog used when a game is created
// without one. Descriptions double as accessibility text and as context
// for the evaluation service.
func DefaultPromptImages() []PromptImage {
	return []PromptImage{
		{URL: "/media/prompts/palengke.png", Description: "Isang abalang palengke sa umaga"},
		{URL: "/media/prompts/dalampasigan.png", Description: "Mga batang naglalaro sa dalampasigan"},
		{URL: "/media/prompts/pista.png", Description: "Pista sa bayan na may mga parol"},
		{URL: "/media/prompts/bukid.png", Description: "Magsasaka sa gitna ng palayan"},
		{URL: "/media/prompts/dyip.png", Description: "Makulay na dyip sa lansangan ng Maynila"},
	}
}
