/*
Package markov provides a small toolkit for building first-order Markov chains
over tokens, generating new sequences from them and computing their stationary
distribution.

A Chain is built once from grouped token sequences (FromGroups) or from one
continuous stream (FromSequence) and never changes afterwards. Tokens may be any
comparable type, typically words (string) or bytes (byte). Every row of the
transition matrix is a probability distribution: tokens that were never followed
by anything get a uniform row, so a walk can always continue.

A Generator walks a Chain with an injected random source, and Solve / SteadyState
approximate the long-run distribution by power iteration. Chains can be persisted
to SQLite through a Store, and DefaultTokenizer, ReadSentences and Render cover
turning raw text into sentences and back.
*/
package markov
