package question

import "github.com/nidhogg/mindprint/internal/profile"

var bank = map[profile.Category][]string{
	profile.CategoryLinguistic: {
		"How would you describe the way you talk to close friends compared to strangers?",
		"Is there a phrase or saying you catch yourself using all the time?",
		"When you explain something complicated, do you reach for stories, examples or diagrams?",
		"Do you tend to write long messages or short ones? Why do you think that is?",
		"What words or expressions do people say are typical of you?",
		"How do you usually greet someone you haven't seen in years?",
		"Do you swear, and if so, when does it come out?",
		"How do you sound when you are trying to be persuasive?",
		"What language or dialect did you grow up speaking, and does it still show?",
		"How do you react when someone uses a word you think is pretentious?",
		"Describe how you would tell a funny story at dinner.",
		"When you disagree with someone, how do you phrase it?",
	},
	profile.CategoryReasoning: {
		"Walk me through how you made the last big decision in your life.",
		"When two trusted sources disagree, how do you decide who is right?",
		"Do you trust your gut or a spreadsheet more? Give an example.",
		"What is a belief you changed your mind about, and what convinced you?",
		"How do you approach a problem you have never seen before?",
		"When planning a trip, what do you figure out first?",
		"How do you decide whether a risk is worth taking?",
		"What kind of argument tends to convince you, and what kind never does?",
		"Tell me about a time you were confidently wrong. What went wrong in your thinking?",
		"How do you weigh short-term costs against long-term benefits?",
		"If you had to bet on something you don't understand, how would you proceed?",
		"What questions do you ask before you trust a number someone shows you?",
	},
	profile.CategoryMoral: {
		"Is it ever right to lie to protect someone's feelings?",
		"What would you do if you saw a friend cheating on an exam?",
		"Where do you draw the line between loyalty and honesty?",
		"Is breaking an unjust rule the right thing to do? When?",
		"How do you feel about people who get rich by bending the rules?",
		"What do you owe strangers?",
		"Would you report a colleague for a small ethical lapse?",
		"Is it fair to judge people from the past by today's standards?",
		"When is forgiveness the wrong choice?",
		"What is something most people think is fine that you consider wrong?",
		"How should a person balance duty to family against duty to society?",
		"Have you ever done something you believed was right that others saw as wrong?",
	},
	profile.CategoryValues: {
		"What matters most to you in life, and has that changed over time?",
		"What would you refuse to do even for a lot of money?",
		"Which quality do you admire most in other people?",
		"What do you want to be remembered for?",
		"How do you decide what to spend your free time on?",
		"What does success mean to you?",
		"Which is more important to you, freedom or security?",
		"What is a sacrifice you made that you would make again?",
		"What do you think is overrated in modern life?",
		"Who taught you the most important thing you believe?",
		"What makes a day feel well spent to you?",
		"How important is tradition to you?",
	},
	profile.CategoryAspirations: {
		"What is something you still want to achieve?",
		"If you could master one skill overnight, what would it be?",
		"Where do you hope to be ten years from now?",
		"What project would you start if you knew it could not fail?",
		"Is there a place you dream of living?",
		"What would you do with a year off and no money worries?",
		"What kind of person are you trying to become?",
		"What goal have you quietly given up on, and do you regret it?",
		"What would you like to teach the next generation?",
		"Is there a version of your life you sometimes imagine living instead?",
		"What is the next big change you want to make?",
		"What would make you proud to look back on at eighty?",
	},
	profile.CategoryPreferences: {
		"Describe your perfect weekend.",
		"What music do you listen to when nobody else is around?",
		"Mornings or late nights? What do you love about them?",
		"What food could you eat every day without getting tired of it?",
		"Do you prefer big gatherings or small dinners?",
		"Which book, film or show have you returned to more than once?",
		"City, countryside or coast?",
		"What is a small luxury you refuse to give up?",
		"How do you like to receive feedback?",
		"What kind of gift makes you happiest?",
		"What is something popular that you simply don't enjoy?",
		"How do you like your workspace arranged?",
	},
	profile.CategoryAutobiographical: {
		"Where did you grow up, and what was it like?",
		"What is your earliest memory?",
		"Tell me about a turning point in your life.",
		"Who was the most important person in your childhood?",
		"What was your first job, and what did it teach you?",
		"Describe a place that feels like home to you.",
		"What is a story your family still tells about you?",
		"Tell me about a time you moved somewhere new.",
		"What is a hardship you came through?",
		"What did you want to be when you were a child?",
		"Describe a friendship that shaped you.",
		"What moment are you proudest of?",
	},
	profile.CategoryEmotional: {
		"What usually makes you angry, and how do you handle it?",
		"How do you comfort yourself after a bad day?",
		"What makes you laugh the hardest?",
		"How do you behave when you are nervous?",
		"When do you feel most at peace?",
		"How do you show affection to people you care about?",
		"What do you do when you feel jealous?",
		"How long do you stay upset after an argument?",
		"What situations make you feel out of place?",
		"How do you react to unexpected good news?",
		"What do you worry about most?",
		"How do you act when someone you love is hurting?",
	},
}

// Bank returns the fallback questions for category.
func Bank(c profile.Category) []string {
	return bank[c]
}
