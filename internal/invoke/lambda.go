// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package invoke

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// The subset of the Lambda API used for invocations
type LambdaAPI interface {
	Invoke(ctx context.Context, in *awslambda.InvokeInput, opts ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

// Invokes an AWS Lambda function asynchronously, one event per payload
type LambdaInvoker struct {
	Client       LambdaAPI
	FunctionName string
}

// NewLambdaInvoker creates an invoker for the named function with a client built from the AWS configuration
func NewLambdaInvoker(cfg aws.Config, functionName string) *LambdaInvoker {
	return &LambdaInvoker{Client: awslambda.NewFromConfig(cfg), FunctionName: functionName}
}

func (l *LambdaInvoker) Invoke(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	out, err := l.Client.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName:   aws.String(l.FunctionName),
		InvocationType: types.InvocationTypeEvent,
		Payload:        body,
	})
	if err != nil {
		return fmt.Errorf("invoking %s for %s: %w", l.FunctionName, p.FitsKey, err)
	}
	if out.FunctionError != nil {
		return fmt.Errorf("invoking %s for %s: %s", l.FunctionName, p.FitsKey, aws.ToString(out.FunctionError))
	}
	if out.StatusCode < 200 || out.StatusCode > 299 {
		return fmt.Errorf("invoking %s for %s: status %d", l.FunctionName, p.FitsKey, out.StatusCode)
	}
	return nil
}
