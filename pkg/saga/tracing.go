package saga

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const transactionTracerName = "tranor.saga"

const (
	spanTransactionSubmit     = "transaction.submit"
	spanTransactionExecute    = "transaction.execute"
	spanTransactionStep       = "transaction.step"
	spanTransactionCompensate = "transaction.compensate"
	spanCompensationStep      = "transaction.step.compensate"
)

func transactionTracer() trace.Tracer {
	return otel.Tracer(transactionTracerName)
}
