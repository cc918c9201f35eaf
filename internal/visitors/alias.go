package visitors

import "hash/fnv"

var visitorAdjectives = []string{
	"Curious", "Happy", "Clever", "Wise", "Playful", "Brave", "Swift", "Gentle", "Smart", "Busy",
	"Adventurous", "Daring", "Fearless", "Bold", "Courageous", "Energetic", "Lively", "Spirited", "Vibrant", "Dynamic",
	"Bright", "Brilliant", "Shining", "Radiant", "Glowing", "Luminous", "Sparkling", "Dazzling", "Gleaming", "Beaming",
	"Cheerful", "Joyful", "Merry", "Jolly", "Blissful", "Delighted", "Ecstatic", "Gleeful", "Jubilant", "Thrilled",
	"Creative", "Imaginative", "Innovative", "Inventive", "Artistic", "Original", "Resourceful", "Ingenious", "Nimble", "Quick",
	"Friendly", "Kind", "Warm", "Welcoming", "Affable", "Amiable", "Cordial", "Genial", "Gracious", "Hospitable",
	"Peaceful", "Calm", "Serene", "Tranquil", "Placid", "Quiet", "Still", "Composed", "Relaxed", "Soothing",
}

var visitorAnimals = []string{
	"Panda", "Fox", "Owl", "Otter", "Lion", "Eagle", "Deer", "Raven", "Beaver", "Koala",
	"Sloth", "Hamster", "Cat", "Bear", "Penguin", "Kangaroo", "Parrot", "Giraffe", "Duck", "Raccoon",
	"Elephant", "Monkey", "Gorilla", "Leopard", "Camel", "Meerkat", "Goat", "Sheep", "Llama", "Mouse",
	"Bee", "Squirrel", "Rabbit", "Hedgehog", "Tiger", "Wolf", "Falcon", "Hawk", "Condor", "Crane",
	"Dolphin", "Whale", "Seahorse", "Jellyfish", "Turtle", "Octopus", "Seal", "Crab", "Starfish", "Heron",
	"Kingfisher", "Hummingbird", "Woodpecker", "Nightingale", "Lark", "Finch", "Sparrow", "Dove", "Swan", "Crow",
}

// Alias returns an anonymized display name for the given anon id,
// used by the admin sessions list instead of raw identifiers.
func Alias(anonID string) string {
	h := fnv.New32a()
	h.Write([]byte(anonID))
	index := int(h.Sum32())

	adjIndex := index % len(visitorAdjectives)
	animalIndex := (index / len(visitorAdjectives)) % len(visitorAnimals)

	return visitorAdjectives[adjIndex] + " " + visitorAnimals[animalIndex]
}
