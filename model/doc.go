// Package model defines the generation backend contract used by the turn
// planner: a normalized Request carrying instruction, grounding text and the
// conversation turns, and a Response carrying the utterance text plus an
// explicit structured action marker. The marker travels on the function/tool
// calling channel of the backend rather than as free text, so the action
// classification stays reliable even when wording varies. Vendor adapters
// live in subpackages (openai, anthropic); select one at wiring time.
package model
