// Package web3 houses blockchain connectivity utilities: chain definitions
// loaded from chain.yaml, a uniform client interface for EVM networks, and the
// contract backend the proof registry binds to.
package web3
